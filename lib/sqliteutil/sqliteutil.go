package sqliteutil

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var remoteSchemes = []string{"libsql://", "http://", "https://", "ws://", "wss://"}

func IsRemote(path string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(path, scheme) {
			return true
		}
	}
	return false
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

// OpenDB opens either a local sqlite file (created along with its parent
// directories if missing) or a remote libsql database when `path` is a url,
// then applies `schema`. The schema must be idempotent (create ... if not exists).
func OpenDB(schema, path string) (*sql.DB, error) {
	return OpenDBWithToken(schema, path, "")
}

func OpenDBWithToken(schema, path, authToken string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	if IsRemote(path) {
		db, err = openRemote(path, authToken)
	} else {
		db, err = openLocal(path)
	}
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	if schema != "" {
		_, err = db.Exec(schema)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}

func openLocal(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			return nil, err
		}
	}
	_, err = db.Exec("PRAGMA foreign_keys=ON")
	if err != nil {
		return nil, err
	}
	return db, nil
}

func openRemote(path, authToken string) (*sql.DB, error) {
	if authToken != "" {
		u, err := url.Parse(path)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		path = u.String()
	}
	return sql.Open("libsql", path)
}
