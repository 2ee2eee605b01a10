package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestInstrumentClientDumpsExchanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc123"})
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello " + r.URL.Query().Get("name")))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "dumps")
	out, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	client := resty.New()
	InstrumentClient(client, "portal/search", out)

	_, err = client.R().
		SetHeader("Authorization", "Bearer secret").
		SetQueryParam("name", "westin").
		Get(server.URL)
	require.NoError(t, err)
	_, err = client.R().SetBody("a=b").Post(server.URL)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"portal_search-0001.txt", "portal_search-0002.txt"}, names)

	first, err := os.ReadFile(filepath.Join(dir, "portal_search-0001.txt"))
	require.NoError(t, err)
	dump := string(first)
	require.Contains(t, dump, "---- REQUEST ----")
	require.Contains(t, dump, "hello westin")
	require.Contains(t, dump, "Authorization: [redacted]")
	require.Contains(t, dump, "Set-Cookie: [redacted]")
	require.False(t, strings.Contains(dump, "secret"))
	require.False(t, strings.Contains(dump, "abc123"))

	second, err := os.ReadFile(filepath.Join(dir, "portal_search-0002.txt"))
	require.NoError(t, err)
	require.Contains(t, string(second), "a=b")
}

func TestInstrumentClientNilOutput(t *testing.T) {
	client := resty.New()
	InstrumentClient(client, "x", nil)
}
