package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockwatch/internal/inventory"
	"stockwatch/internal/storage"
	"stockwatch/internal/transport"
	logx "stockwatch/pkg/logx"
)

type sent struct {
	channel string
	msg     transport.Message
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []sent
	calls map[string]int
	fail  map[string]int // channel -> number of failures before success; <0 always fails
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: map[string]int{}, fail: map[string]int{}}
}

func (f *fakeTransport) Send(_ context.Context, channelID string, msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[channelID]++
	if n, ok := f.fail[channelID]; ok && (n < 0 || f.calls[channelID] <= n) {
		return errors.New("telegram: Forbidden: bot was kicked")
	}
	f.sent = append(f.sent, sent{channel: channelID, msg: msg})
	return nil
}

func (f *fakeTransport) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.channel)
	}
	sort.Strings(out)
	return out
}

type fakeImages struct {
	err   error
	calls int
}

func (f *fakeImages) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("img:" + url), nil
}

func seed(t *testing.T, st *storage.Memory, recs ...inventory.ProductRecord) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, st.UpsertProduct(context.Background(), r))
	}
}

func seedChannels(t *testing.T, st *storage.Memory, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, st.UpsertChannel(context.Background(), inventory.ChannelRecord{GroupID: id, ChannelID: id, GroupName: "g" + id}))
	}
}

func newDispatcher(t *testing.T, st *storage.Memory, tr Transport, img ImageFetcher, cfg Config) *Dispatcher {
	t.Helper()
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
		cfg.RetryMaxDelay = 2 * time.Millisecond
	}
	cfg.RatePerSec = 1000
	d, err := New(cfg, st, st, tr, img, logx.Nop())
	require.NoError(t, err)
	return d
}

func notified(t *testing.T, st *storage.Memory, name string) bool {
	t.Helper()
	rec, ok, err := st.GetProduct(context.Background(), name)
	require.NoError(t, err)
	require.True(t, ok)
	return rec.Notified
}

func TestDispatchNeverSelectsInStock(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st,
		inventory.ProductRecord{Name: "new", Status: inventory.StatusInStock},
		inventory.ProductRecord{Name: "gone", Status: inventory.StatusRemoved},
	)
	seedChannels(t, st, "-1")
	tr := newFakeTransport()

	rep, err := newDispatcher(t, st, tr, nil, Config{}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Selected)
	require.Equal(t, 1, rep.Notified)
	require.False(t, notified(t, st, "new"))
	require.True(t, notified(t, st, "gone"))
	require.Len(t, tr.sent, 1)
}

func TestDispatchMarksDespiteFailures(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st,
		inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut},
		inventory.ProductRecord{Name: "B", Status: inventory.StatusRemoved},
	)
	seedChannels(t, st, "-1", "-2", "-3")
	tr := newFakeTransport()
	tr.fail["-2"] = -1

	rep, err := newDispatcher(t, st, tr, nil, Config{RetryMax: 2}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, rep.Notified)
	require.Equal(t, 6, rep.Attempts)
	require.Equal(t, 2, rep.Failures)
	require.True(t, notified(t, st, "A"))
	require.True(t, notified(t, st, "B"))
	require.Equal(t, 6, tr.calls["-2"], "three attempts per record")
	require.Equal(t, []string{"-1", "-1", "-3", "-3"}, tr.channels())
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut})
	seedChannels(t, st, "-1")
	tr := newFakeTransport()
	tr.fail["-1"] = 1

	rep, err := newDispatcher(t, st, tr, nil, Config{RetryMax: 1}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, rep.Failures)
	require.Equal(t, 2, tr.calls["-1"])
	require.Len(t, tr.sent, 1)
}

func TestDispatchNoChannelsStillMarks(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut, ImageURL: "https://img/a.jpg"})
	img := &fakeImages{}

	rep, err := newDispatcher(t, st, newFakeTransport(), img, Config{}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Notified)
	require.Zero(t, img.calls, "no image download without targets")
	require.True(t, notified(t, st, "A"))
}

func TestDispatchImageFailureSendsTextOnly(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut, ImageURL: "https://img/a.jpg"})
	seedChannels(t, st, "-1", "-2")
	tr := newFakeTransport()
	img := &fakeImages{err: errors.New("404")}

	rep, err := newDispatcher(t, st, tr, img, Config{}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.TextOnly)
	require.Equal(t, 1, img.calls, "image fetched once per record")
	require.Len(t, tr.sent, 2)
	for _, s := range tr.sent {
		require.False(t, s.msg.HasImage())
	}
	require.True(t, notified(t, st, "A"))
}

func TestDispatchAttachesImage(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A & B", Status: inventory.StatusSoldOut, ImageURL: "https://img/files/a.jpg?v=3"})
	seedChannels(t, st, "-1")
	tr := newFakeTransport()

	_, err := newDispatcher(t, st, tr, &fakeImages{}, Config{}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	msg := tr.sent[0].msg
	require.Equal(t, []byte("img:https://img/files/a.jpg?v=3"), msg.Image)
	require.Equal(t, "a.jpg", msg.ImageName)
	require.Equal(t, "HTML", msg.ParseMode)
	require.Equal(t, "商品狀態更新通知：<b>A &amp; B</b>\n狀態：売り切れ", msg.Text)
}

func TestDispatchCustomTemplateAndLabels(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A", Status: inventory.StatusRemoved})
	seedChannels(t, st, "-1")
	tr := newFakeTransport()

	cfg := Config{
		Template:  "{{.Name}} is {{.Status}} ({{.StatusCode}})",
		ParseMode: "none",
		Labels:    inventory.Labels{inventory.StatusRemoved: "delisted"},
	}
	_, err := newDispatcher(t, st, tr, nil, cfg).Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A is delisted (removed)", tr.sent[0].msg.Text)
}

func TestApplyRejectsBadTemplate(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	d := newDispatcher(t, st, newFakeTransport(), nil, Config{})
	require.Error(t, d.Apply(Config{Template: "{{.Name"}))
	cfg, _, _ := d.snapshot()
	require.Equal(t, DefaultTemplate, cfg.Template)
}

type brokenChannels struct{ *storage.Memory }

func (brokenChannels) ListChannels(context.Context) ([]inventory.ChannelRecord, error) {
	return nil, inventory.WrapStoreError("list channels", "", errors.New("database is locked"))
}

func TestDispatchRegistryFailureDefers(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut})
	tr := newFakeTransport()

	d, err := New(Config{}, st, brokenChannels{st}, tr, nil, logx.Nop())
	require.NoError(t, err)
	rep, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Deferred)
	require.False(t, notified(t, st, "A"))
}

type racingStore struct {
	*storage.Memory
}

// MarkNotified simulates a reconcile that changed the status mid-dispatch.
func (r racingStore) MarkNotified(ctx context.Context, name string, status inventory.Status) (bool, error) {
	rec, _, _ := r.Memory.GetProduct(ctx, name)
	rec.Status = inventory.StatusInStock
	_ = r.Memory.UpsertProduct(ctx, rec)
	return r.Memory.MarkNotified(ctx, name, status)
}

func TestDispatchStaleRecordNotMarked(t *testing.T) {
	t.Parallel()
	mem := storage.NewMemory()
	seed(t, mem, inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut})
	st := racingStore{mem}

	d, err := New(Config{}, st, mem, newFakeTransport(), nil, logx.Nop())
	require.NoError(t, err)
	rep, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Stale)
	require.False(t, notified(t, mem, "A"))
}

func TestDispatchInvalidChannelNotRetried(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	seed(t, st, inventory.ProductRecord{Name: "A", Status: inventory.StatusSoldOut})
	seedChannels(t, st, "bogus")
	tr := TransportFunc(func(context.Context, string, transport.Message) error {
		return transport.ErrInvalidChannel
	})
	var calls int
	counting := TransportFunc(func(ctx context.Context, id string, m transport.Message) error {
		calls++
		return tr(ctx, id, m)
	})

	rep, err := newDispatcher(t, st, counting, nil, Config{RetryMax: 3}).Dispatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, rep.Failures)
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := withDefaults(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second})
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		require.GreaterOrEqual(t, d, 70*time.Millisecond)
		require.LessOrEqual(t, d, 1300*time.Millisecond)
	}
}
