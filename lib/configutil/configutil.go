package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func localVariant(name string) string {
	dirname := filepath.Dir(name)
	basename := filepath.Base(name)
	ext := filepath.Ext(basename)
	prefix := strings.TrimSuffix(basename, ext)
	return filepath.Join(dirname, fmt.Sprintf("%s.local%s", prefix, ext))
}

func readInto[T any](path string, out *T) (found bool, err error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}

	var layer T
	err = json5.Unmarshal(contents, &layer)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	err = mergo.Merge(out, layer, mergo.WithOverride)
	if err != nil {
		return false, fmt.Errorf("merge %s: %w", path, err)
	}
	return true, nil
}

// reads a configuration file, `name` should come with a file extension,
// it will automatically be lopped off to produce the other extensions.
// this function will merge the following files, where higher number is more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
func ReadConfig[T any](name string) (T, error) {
	var out T
	return out, readLayers(name, &out)
}

// ReadConfigWithDefaults is ReadConfig layered on top of `defaults`, zero
// values in the files never clobber a default.
func ReadConfigWithDefaults[T any](name string, defaults T) (T, error) {
	out := defaults
	err := readLayers(name, &out)
	return out, err
}

func readLayers[T any](name string, out *T) error {
	foundDefault, err := readInto(name, out)
	if err != nil {
		return err
	}
	local := localVariant(name)
	foundLocal, err := readInto(local, out)
	if err != nil {
		return err
	}
	if foundLocal {
		slog.Info("merging config with local overrides", "local", local)
	}
	if !foundDefault && !foundLocal {
		return fmt.Errorf("read config %s: %w", name, os.ErrNotExist)
	}
	return nil
}

// ReadConfig but it recursively goes up the filesystem until the root
// to find a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var defaultOut T

	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return defaultOut, err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return defaultOut, fmt.Errorf("find %s: %w", name, os.ErrNotExist)
		}
		current = parent
	}
}
