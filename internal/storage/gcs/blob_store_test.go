package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type uploadRecorder struct {
	mu     sync.Mutex
	name   string
	bucket string
	body   string
}

func newTestStore(t *testing.T, status int) (*BlobStore, *uploadRecorder) {
	t.Helper()
	rec := &uploadRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.name = r.URL.Query().Get("name")
		rec.bucket = r.URL.Path
		rec.body = string(body)
		rec.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, `{"error":{"code":500,"message":"backend error"}}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name":%q,"bucket":"snapshots"}`, rec.name)
	}))
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "snapshots"})
	require.NoError(t, err)
	return store, rec
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	store, rec := newTestStore(t, http.StatusOK)
	uri, err := store.PutObject(context.Background(), "/listings/2024-01-02/abc.html", "text/html", strings.NewReader("<html>listing</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/listings/2024-01-02/abc.html", uri)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, "listings/2024-01-02/abc.html", rec.name)
	require.Contains(t, rec.bucket, "/b/snapshots/o")
	require.Contains(t, rec.body, "<html>listing</html>")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, http.StatusBadRequest)
	_, err := store.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)
}
