package display

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/livecaption/engine"
	"github.com/d1nch8g/livecaption/stt"
)

type fakeSource struct{}

func (fakeSource) CommittedLines() []engine.Line {
	return []engine.Line{{Text: "first line", Offset: time.Second}}
}

func (fakeSource) Stats() engine.Stats {
	return engine.Stats{Processed: 12, Dropped: 1}
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(fakeSource{}, zerolog.Nop())
	srv := httptest.NewServer(hub.Router())
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialCaptions(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/captions", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestHub_BroadcastsResults(t *testing.T) {
	hub, srv := newTestHub(t)
	a := dialCaptions(t, srv)
	b := dialCaptions(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Publish(stt.Result{Text: "hello", LatencyMS: 42.5})
	hub.Publish(stt.Result{Text: "hello world", IsFinal: true})

	for _, ws := range []*websocket.Conn{a, b} {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

		var got map[string]any
		require.NoError(t, ws.ReadJSON(&got))
		assert.Equal(t, map[string]any{"text": "hello", "latency_ms": 42.5, "is_final": false}, got)

		var final stt.Result
		require.NoError(t, ws.ReadJSON(&final))
		assert.Equal(t, stt.Result{Text: "hello world", IsFinal: true}, final)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := newTestHub(t)
	ws := dialCaptions(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	hub.Publish(stt.Result{Text: "nobody listening"})
}

func TestHub_SlowClientNeverBlocksPublish(t *testing.T) {
	hub := NewHub(fakeSource{}, zerolog.Nop())
	c := &client{send: make(chan []byte, 2)}
	hub.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Publish(stt.Result{Text: "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow client")
	}
	assert.Len(t, c.send, 2)
	assert.Equal(t, uint64(8), hub.Dropped())
}

func TestHub_TranscriptAndStats(t *testing.T) {
	_, srv := newTestHub(t)

	resp, err := http.Get(srv.URL + "/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var transcript struct {
		Lines []engine.Line `json:"lines"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&transcript))
	require.Len(t, transcript.Lines, 1)
	assert.Equal(t, "first line", transcript.Lines[0].Text)

	resp2, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var stats engine.Stats
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	assert.Equal(t, uint64(12), stats.Processed)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestHub_Metrics(t *testing.T) {
	_, srv := newTestHub(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHub_ServeUntilShutdown(t *testing.T) {
	hub := NewHub(fakeSource{}, zerolog.Nop())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- hub.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after shutdown")
	}
}

func TestHub_ShutdownBeforeStart(t *testing.T) {
	hub := NewHub(fakeSource{}, zerolog.Nop())
	require.NoError(t, hub.Shutdown(context.Background()))

	started := make(chan error, 1)
	go func() { started <- hub.Start("127.0.0.1:0") }()
	select {
	case err := <-started:
		assert.NoError(t, err, "a shut down hub does not serve")
	case <-time.After(time.Second):
		t.Fatal("start kept serving after shutdown")
	}
}
