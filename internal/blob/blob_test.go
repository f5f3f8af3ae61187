package blob_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/DialogPipe/internal/blob"
	"github.com/BTreeMap/DialogPipe/internal/models"
)

func newMemStore(t *testing.T, opts ...blob.Option) *blob.Store {
	t.Helper()
	s, err := blob.NewStore(context.Background(), "mem://", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreFromURL(t *testing.T) {
	ctx := context.Background()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	s := newMemStore(t, blob.WithBearerToken("secret"))

	id, err := s.StoreFromURL(ctx, srv.URL+"/photo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, blob.DefaultPrefix), "id %q lacks prefix", id)
	assert.True(t, strings.HasSuffix(id, ".png"), "id %q lacks extension", id)
	assert.Equal(t, "Bearer secret", gotAuth)

	data, err := s.Open(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestStoreFromURL_FollowsMediaIndirection(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v18.0/media-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"` + srv.URL + `/binary","mime_type":"image/jpeg","id":"media-1"}`))
	})
	mux.HandleFunc("/binary", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := newMemStore(t, blob.WithBearerToken("tok"))
	id, err := s.StoreFromURL(ctx, srv.URL+"/v18.0/media-1")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, ".jpeg"))

	data, err := s.Open(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestStoreFromURL_DownloadFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			return
		}
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := newMemStore(t)
	for _, path := range []string{"/forbidden", "/empty"} {
		_, err := s.StoreFromURL(context.Background(), srv.URL+path)
		assert.ErrorIs(t, err, blob.ErrDownloadFailed, path)
	}

	_, err := s.StoreFromURL(context.Background(), "http://127.0.0.1:0/unreachable")
	assert.ErrorIs(t, err, blob.ErrDownloadFailed)
}

func TestStoreFromURL_RejectsOversizedMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(strings.TrimPrefix(r.URL.Path, "/")))
	}))
	defer srv.Close()

	s := newMemStore(t, blob.WithMaxDownloadBytes(8))

	_, err := s.StoreFromURL(context.Background(), srv.URL+"/123456789")
	assert.ErrorIs(t, err, blob.ErrDownloadFailed)

	id, err := s.StoreFromURL(context.Background(), srv.URL+"/12345678")
	require.NoError(t, err)
	data, err := s.Open(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(data))
}

func TestStoreAttachment_InlineData(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t, blob.WithPrefix("docs/"))

	id, err := s.StoreAttachment(ctx, models.Attachment{MIMEType: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "docs/"))
	assert.True(t, strings.HasSuffix(id, ".pdf"))

	data, err := s.Open(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestStoreAttachment_NoSource(t *testing.T) {
	s := newMemStore(t)
	_, err := s.StoreAttachment(context.Background(), models.Attachment{})
	assert.ErrorIs(t, err, blob.ErrDownloadFailed)
}

func TestOpen_NotFound(t *testing.T) {
	s := newMemStore(t)
	_, err := s.Open(context.Background(), "uploads/missing")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestFileBucket(t *testing.T) {
	ctx := context.Background()
	s, err := blob.NewStore(ctx, "file://"+t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id, err := s.StoreAttachment(ctx, models.Attachment{Data: []byte("x")})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, ".jpeg"), "default content type should be jpeg")
}
