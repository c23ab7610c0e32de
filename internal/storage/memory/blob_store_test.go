package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html>listing</html>")
	uri, err := store.PutObject(context.Background(), "listings/2024-01-01/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://listings/2024-01-01/abc.html", uri)

	payload[0] = 'X'
	stored, ok := store.Object("listings/2024-01-01/abc.html")
	require.True(t, ok)
	require.Equal(t, "<html>listing</html>", string(stored))
	require.Equal(t, 1, store.Len())

	_, ok = store.Object("missing")
	require.False(t, ok)
}
