package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"stockwatch/internal/inventory"
	logx "stockwatch/pkg/logx"
)

func runStoreSuite(t *testing.T, open func(t *testing.T) inventory.Store) {
	t.Helper()

	t.Run("product upsert and get", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, ok, err := st.GetProduct(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)

		at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		in := inventory.ProductRecord{Name: "Usagi Plush", ImageURL: "https://img/u.jpg", Status: inventory.StatusInStock, LastUpdated: at}
		require.NoError(t, st.UpsertProduct(ctx, in))

		got, ok, err := st.GetProduct(ctx, "Usagi Plush")
		require.NoError(t, err)
		require.True(t, ok)
		if diff := cmp.Diff(in, got); diff != "" {
			t.Fatalf("record mismatch (-want +got):\n%s", diff)
		}

		in.Status = inventory.StatusSoldOut
		in.ImageURL = ""
		require.NoError(t, st.UpsertProduct(ctx, in))
		got, _, err = st.GetProduct(ctx, "Usagi Plush")
		require.NoError(t, err)
		require.Equal(t, inventory.StatusSoldOut, got.Status)
		require.Empty(t, got.ImageURL)

		// names are case-sensitive
		_, ok, err = st.GetProduct(ctx, "usagi plush")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("list unnotified and mark", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

		recs := []inventory.ProductRecord{
			{Name: "a", Status: inventory.StatusInStock, LastUpdated: base},
			{Name: "b", Status: inventory.StatusSoldOut, LastUpdated: base.Add(2 * time.Minute)},
			{Name: "c", Status: inventory.StatusRemoved, LastUpdated: base.Add(time.Minute)},
			{Name: "d", Status: inventory.StatusSoldOut, LastUpdated: base, Notified: true},
		}
		for _, r := range recs {
			require.NoError(t, st.UpsertProduct(ctx, r))
		}

		pending, err := st.ListUnnotified(ctx, inventory.NotifyWorthyStatuses()...)
		require.NoError(t, err)
		require.Equal(t, []string{"c", "b"}, names(pending))

		none, err := st.ListUnnotified(ctx)
		require.NoError(t, err)
		require.Empty(t, none)

		changed, err := st.MarkNotified(ctx, "b", inventory.StatusRemoved)
		require.NoError(t, err)
		require.False(t, changed, "status mismatch must not mark")

		changed, err = st.MarkNotified(ctx, "b", inventory.StatusSoldOut)
		require.NoError(t, err)
		require.True(t, changed)

		changed, err = st.MarkNotified(ctx, "b", inventory.StatusSoldOut)
		require.NoError(t, err)
		require.False(t, changed, "already notified")

		pending, err = st.ListUnnotified(ctx, inventory.NotifyWorthyStatuses()...)
		require.NoError(t, err)
		require.Equal(t, []string{"c"}, names(pending))

		all, err := st.ListProducts(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c", "d"}, names(all))

		require.NoError(t, st.DeleteProduct(ctx, "a"))
		require.NoError(t, st.DeleteProduct(ctx, "a"))
		all, err = st.ListProducts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("channels", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

		require.NoError(t, st.UpsertChannel(ctx, inventory.ChannelRecord{GroupID: "-100", ChannelID: "-100", GroupName: "Fans", UpdatedAt: at}))
		require.NoError(t, st.UpsertChannel(ctx, inventory.ChannelRecord{GroupID: "-200", ChannelID: "-200:7", ChannelName: "bot alerts", GroupName: "Bots", UpdatedAt: at}))
		require.NoError(t, st.UpsertChannel(ctx, inventory.ChannelRecord{GroupID: "-100", ChannelID: "-100:3", GroupName: "Fans 2", UpdatedAt: at}))

		got, err := st.ListChannels(ctx)
		require.NoError(t, err)
		want := []inventory.ChannelRecord{
			{GroupID: "-100", ChannelID: "-100:3", GroupName: "Fans 2", UpdatedAt: at},
			{GroupID: "-200", ChannelID: "-200:7", ChannelName: "bot alerts", GroupName: "Bots", UpdatedAt: at},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("channels mismatch (-want +got):\n%s", diff)
		}

		require.NoError(t, st.DeleteChannel(ctx, "-100"))
		got, err = st.ListChannels(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "-200", got[0].GroupID)
	})
}

func names(recs []inventory.ProductRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) inventory.Store {
		return NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) inventory.Store {
		st, err := Open(context.Background(), Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/nested/stockwatch.db"
	ctx := context.Background()

	st, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.UpsertProduct(ctx, inventory.ProductRecord{Name: "x", Status: inventory.StatusSoldOut}))
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	got, ok, err := st.GetProduct(ctx, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inventory.StatusSoldOut, got.Status)
	require.False(t, got.LastUpdated.IsZero())
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"libsql", "postgres"} {
		if _, err := Open(context.Background(), Config{Driver: driver}, logx.Nop()); err == nil {
			t.Fatalf("%s: expected error without dsn", driver)
		}
	}
}

func TestWrapStoreError(t *testing.T) {
	t.Parallel()
	require.NoError(t, inventory.WrapStoreError("get", "k", nil))

	cause := errors.New("disk full")
	err := inventory.WrapStoreError("upsert product", "k", cause)
	var se *inventory.StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "upsert product", se.Op)
	require.ErrorIs(t, err, cause)

	// already wrapped errors pass through
	require.Same(t, se, inventory.WrapStoreError("other", "k2", err).(*inventory.StoreError))
}
