package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	logx "stockwatch/pkg/logx"
)

func newFixtureServer(t *testing.T, lastPage int, failPage int) *httptest.Server {
	t.Helper()
	body, err := os.ReadFile("testdata/listing.html")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch {
		case failPage > 0 && page == failPage:
			http.Error(w, "upstream down", http.StatusBadGateway)
		case page >= 1 && page <= lastPage:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(body)
		default:
			_, _ = w.Write([]byte(`<html><body><div class="empty">no products</div></body></html>`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSourceFetchPage(t *testing.T) {
	t.Parallel()
	srv := newFixtureServer(t, 1, 3)
	src, err := NewHTTPSource(Config{BaseURL: srv.URL + "/collections/all"}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	res := src.FetchPage(ctx, 1)
	require.Equal(t, PageProducts, res.Kind)
	require.Len(t, res.Products, 3)
	require.Equal(t, 1, res.Skipped)

	res = src.FetchPage(ctx, 2)
	require.Equal(t, PageEnd, res.Kind)

	res = src.FetchPage(ctx, 3)
	require.Equal(t, PageFailed, res.Kind)
	var fe *FetchError
	require.True(t, errors.As(res.Err, &fe))
	require.Equal(t, http.StatusBadGateway, fe.Status)
	require.Equal(t, 3, fe.Page)
}

func TestHTTPSourceConnectionError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	src, err := NewHTTPSource(Config{BaseURL: base}, logx.Nop())
	require.NoError(t, err)
	res := src.FetchPage(context.Background(), 1)
	require.Equal(t, PageFailed, res.Kind)
	var fe *FetchError
	require.ErrorAs(t, res.Err, &fe)
	require.Zero(t, fe.Status)
}

func TestHTTPSourcePageURL(t *testing.T) {
	t.Parallel()
	src, err := NewHTTPSource(Config{BaseURL: "https://shop.example/collections/all?sort_by=title", PageParam: "p"}, logx.Nop())
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/collections/all?p=4&sort_by=title", src.pageURL(4))
}

func TestNewHTTPSourceRejectsRelativeURL(t *testing.T) {
	t.Parallel()
	_, err := NewHTTPSource(Config{BaseURL: "/collections/all"}, logx.Nop())
	require.Error(t, err)
}

func TestHTTPSourceUnparsablePageFails(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div class="product--root"><h3>renamed markup</h3></div>`))
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(Config{BaseURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	res := src.FetchPage(context.Background(), 1)
	require.Equal(t, PageFailed, res.Kind)
	require.ErrorIs(t, res.Err, ErrUnparsable)
}

func TestCollectOverHTTPStopsAtUnparsablePage(t *testing.T) {
	t.Parallel()
	pages := map[string]string{
		"1": `<div class="product--root"><h2 class="product_name">A</h2></div>`,
		"2": `<div class="product--root"><span>no name here</span></div>`,
		"3": `<div class="product--root"><h2 class="product_name">C</h2></div>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pages[r.URL.Query().Get("page")]))
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(Config{BaseURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	snap := Collect(context.Background(), src, CollectOptions{}, logx.Nop())
	require.False(t, snap.Complete, "an unparsable page must not read as the end of the catalog")
	require.Equal(t, 1, snap.Pages)
	require.Len(t, snap.Products, 1)
	require.Equal(t, "A", snap.Products[0].Name)
}
