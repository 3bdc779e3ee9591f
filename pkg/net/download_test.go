package net

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/history.csv", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("price,regret_score\n1,2\n"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("http://example.com/a.csv"))
	assert.True(t, IsRemote("HTTPS://example.com/a.csv"))
	assert.False(t, IsRemote("data/history.csv"))
	assert.False(t, IsRemote("/tmp/http.csv"))
}

func TestDownload(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, Download(context.Background(), s.URL+"/history.csv", path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "price,regret_score\n1,2\n", string(b))
}

func TestDownload_Errors(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	err := Download(context.Background(), s.URL+"/missing", path)
	assert.ErrorIs(t, err, ErrorURLNotFound)

	err = Download(context.Background(), s.URL+"/broken", path)
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch(t *testing.T) {
	s := testServer(t)

	path, cleanup, err := Fetch(context.Background(), s.URL+"/history.csv")
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, _, err = Fetch(context.Background(), s.URL+"/missing")
	assert.ErrorIs(t, err, ErrorURLNotFound)
}
