package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"stockwatch/internal/transport"
)

type apiCall struct {
	method string
	params map[string]string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall

	// reject, when set, is returned as the error description for every send.
	reject string
}

func (f *fakeAPI) recorded() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	params := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_ = r.ParseMultipartForm(10 << 20)
		for k, v := range r.MultipartForm.Value {
			params[k] = v[0]
		}
		if _, ok := r.MultipartForm.File["photo"]; ok {
			params["photo"] = "<file>"
		}
	} else {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		for k, v := range raw {
			params[k] = fmt.Sprint(v)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, params: params})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.reject != "" && strings.HasPrefix(method, "send") {
		_, _ = fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, f.reject)
		return
	}
	result := `{"message_id":1,"date":0,"chat":{"id":-100,"type":"supergroup"}}`
	if method == "sendPhoto" {
		result = `{"message_id":2,"date":0,"chat":{"id":-100,"type":"supergroup"},"photo":[{"file_id":"f","file_unique_id":"u","width":1,"height":1}]}`
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func newAPIAdapter(t *testing.T) (*Adapter, *fakeAPI) {
	t.Helper()
	return newAPIAdapterWith(t, Config{})
}

func newAPIAdapterWith(t *testing.T, cfg Config) (*Adapter, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	cfg.APIURL = srv.URL
	return newOfflineAdapter(t, cfg), api
}

func TestSendTextToTopic(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapter(t)
	err := a.Send(context.Background(), "-100:7", transport.Message{Text: "<b>x</b>", ParseMode: "HTML"})
	require.NoError(t, err)

	require.Len(t, api.calls, 1)
	c := api.calls[0]
	require.Equal(t, "sendMessage", c.method)
	require.Equal(t, "-100", c.params["chat_id"])
	require.Equal(t, "7", c.params["message_thread_id"])
	require.Equal(t, "HTML", c.params["parse_mode"])
	require.Equal(t, "<b>x</b>", c.params["text"])
}

func TestSendLongTextIsSplit(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapter(t)
	line := strings.Repeat("z", 1000)
	text := strings.Join([]string{line, line, line, line, line}, "\n")
	require.NoError(t, a.Send(context.Background(), "-100", transport.Message{Text: text}))
	require.Len(t, api.calls, 2)
}

func TestSendPhotoWithCaption(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapter(t)
	err := a.Send(context.Background(), "-100", transport.Message{Text: "sold out", Image: []byte("\xff\xd8jpeg")})
	require.NoError(t, err)
	require.Len(t, api.calls, 1)
	require.Equal(t, "sendPhoto", api.calls[0].method)
	require.Equal(t, "sold out", api.calls[0].params["caption"])
}

func TestSendPhotoLongCaptionFollowsAsText(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapter(t)
	text := strings.Repeat("c", captionLimit+1)
	require.NoError(t, a.Send(context.Background(), "-100", transport.Message{Text: text, Image: []byte("img")}))
	require.Len(t, api.calls, 2)
	require.Equal(t, "sendPhoto", api.calls[0].method)
	require.Empty(t, api.calls[0].params["caption"])
	require.Equal(t, "sendMessage", api.calls[1].method)
}

func TestSendInvalidChannel(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapter(t)
	err := a.Send(context.Background(), "general", transport.Message{Text: "x"})
	var se *transport.SendError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, transport.ErrInvalidChannel)
	require.Empty(t, api.calls)
}

func TestSendToGoneChatIsInvalidChannel(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapter(t)
	api.reject = "Bad Request: chat not found"

	err := a.Send(context.Background(), "-100", transport.Message{Text: "x"})
	var se *transport.SendError
	require.ErrorAs(t, err, &se)
	require.ErrorIs(t, err, transport.ErrInvalidChannel)
	require.True(t, isGone(err))
}

func TestProbeReplyIgnoresCase(t *testing.T) {
	t.Parallel()
	a, api := newAPIAdapterWith(t, Config{ProbeText: "test", ProbeReply: "hi"})
	chat := &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "Fans"}

	for i, text := range []string{"Test", " TEST ", "testing"} {
		a.bot.ProcessUpdate(tele.Update{ID: i + 1, Message: &tele.Message{ID: i + 1, Chat: chat, Text: text}})
	}

	require.Eventually(t, func() bool { return len(api.recorded()) == 2 }, 2*time.Second, 10*time.Millisecond)
	// "testing" must not be answered.
	time.Sleep(50 * time.Millisecond)
	calls := api.recorded()
	require.Len(t, calls, 2)
	for _, c := range calls {
		require.Equal(t, "sendMessage", c.method)
		require.Equal(t, "hi", c.params["text"])
	}
}
