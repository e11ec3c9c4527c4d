package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockwatch/internal/catalog"
	logx "stockwatch/pkg/logx"
)

func TestFetcherCachesBytes(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	f := New(Config{}, logx.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b, err := f.Fetch(ctx, srv.URL+"/a.jpg")
		require.NoError(t, err)
		require.Equal(t, []byte("jpeg-bytes"), b)
	}
	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, 1, f.Len())

	f.Purge()
	_, err := f.Fetch(ctx, srv.URL+"/a.jpg")
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetcherCacheExpires(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := New(Config{CacheTTL: 50 * time.Millisecond}, logx.Nop())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetcherErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.jpg":
			http.NotFound(w, r)
		case "/huge.jpg":
			_, _ = w.Write(make([]byte, 64))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 32}, logx.Nop())
	ctx := context.Background()

	for _, path := range []string{"/missing.jpg", "/huge.jpg", "/empty.jpg"} {
		_, err := f.Fetch(ctx, srv.URL+path)
		var fe *catalog.FetchError
		require.ErrorAs(t, err, &fe, path)
		require.Equal(t, srv.URL+path, fe.URL)
	}
	require.Zero(t, f.Len(), "failures are not cached")

	_, err := f.Fetch(ctx, "  ")
	require.Error(t, err)
}

func TestFetcherStopsReadingOversizedBody(t *testing.T) {
	t.Parallel()
	const total = 64 << 20
	var written atomic.Int64
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		chunk := make([]byte, 32<<10)
		for written.Load() < total {
			n, err := w.Write(chunk)
			written.Add(int64(n))
			if err != nil {
				return
			}
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 1 << 10}, logx.Nop())
	_, err := f.Fetch(context.Background(), srv.URL+"/stream.jpg")
	var fe *catalog.FetchError
	require.ErrorAs(t, err, &fe)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server kept writing after the client gave up")
	}
	require.Less(t, written.Load(), int64(total))
}
