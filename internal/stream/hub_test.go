package stream

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/metrics"
)

func newTestServer(t *testing.T, cfg Config) (*Hub, *metrics.Metrics, *httptest.Server) {
	t.Helper()
	m := metrics.New()
	hub := NewHub(cfg, zerolog.Nop(), bus.NewEventBus(), m)
	srv := NewServer(ServerConfig{}, hub, m.Registry, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, m, ts
}

func dial(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, TypeHello, hello.Type)
	require.NotEmpty(t, hello.ClientID)
	return conn, hello.ClientID
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastDeliversFrames(t *testing.T) {
	hub, m, ts := newTestServer(t, Config{})
	conn, _ := dial(t, ts)
	waitClients(t, hub, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectedClients))

	out := avatar3d.FrameOutput{
		Time: 1.5,
		Mode: avatar3d.ModeSpeech,
		Expression: avatar3d.ExpressionParameters{
			MouthOpen: 0.6,
			JawOpen:   0.3,
		},
		Motion: avatar3d.Motion{Rotation: avatar3d.HeadPose{X: 0.01}},
		Blink:  0.5,
	}
	require.NoError(t, hub.Broadcast(NewFrameMessage(7, out, map[string]float32{"jawOpen": 0.3})))

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, TypeFrame, msg.Type)
	require.NotNil(t, msg.Frame)
	assert.Equal(t, uint64(7), msg.Frame.Seq)
	assert.Equal(t, avatar3d.ModeSpeech, msg.Frame.Mode)
	assert.InDelta(t, 0.6, msg.Frame.Expression.MouthOpen, 1e-9)
	assert.InDelta(t, 0.01, msg.Frame.Rotation.X, 1e-6)
	assert.InDelta(t, 0.3, msg.Frame.Weights["jawOpen"], 1e-6)
}

func TestHub_ForwardsInboundAudio(t *testing.T) {
	hub, m, ts := newTestServer(t, Config{})
	conn, id := dial(t, ts)

	require.NoError(t, conn.WriteJSON(Message{
		Type: TypeAudio,
		Audio: &AudioMessage{
			Speaking:    true,
			Volume:      0.4,
			Frequencies: []float64{200, 180, 10},
		},
	}))

	select {
	case in := <-hub.Inbound():
		assert.Equal(t, id, in.ClientID)
		assert.True(t, in.Speaking)
		require.NotNil(t, in.Audio)
		assert.Equal(t, 0.4, in.Audio.Volume)
		assert.Equal(t, []float64{200, 180, 10}, in.Audio.Frequencies)
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound frame")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundFrames))
}

func TestHub_RejectsUnknownMessages(t *testing.T) {
	_, _, ts := newTestServer(t, Config{})
	conn, _ := dial(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: "dance"}))
	require.NoError(t, conn.WriteJSON(Message{Type: TypeAudio}))

	for _, want := range []string{"unknown message type: dance", "audio message without payload"} {
		var msg Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, TypeError, msg.Type)
		assert.Equal(t, want, msg.Error)
	}
}

func TestHub_InboundOverflowIsDropped(t *testing.T) {
	hub, m, ts := newTestServer(t, Config{InboundBuffer: 1})
	conn, _ := dial(t, ts)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(Message{Type: TypeAudio, Audio: &AudioMessage{Volume: 0.1}}))
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DroppedFrames.WithLabelValues("inbound_full")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, hub.Inbound(), 1)
}

func TestHub_SlowClientMissesFrames(t *testing.T) {
	m := metrics.New()
	hub := NewHub(Config{SendBuffer: 1}, zerolog.Nop(), nil, m)
	slow := &client{id: "slow", send: make(chan []byte, 1)}
	hub.clients[slow.id] = slow

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Broadcast(&FrameMessage{Seq: uint64(i)}))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DroppedFrames.WithLabelValues("slow_client")))
	assert.Contains(t, string(<-slow.send), `"seq":0`)
}

func TestHub_DisconnectPublishesEvents(t *testing.T) {
	m := metrics.New()
	eventBus := bus.NewEventBus()
	events := make(chan bus.EventType, 4)
	eventBus.SubscribeMultiple(
		[]bus.EventType{bus.EventTypeClientConnected, bus.EventTypeClientDisconnected},
		func(e bus.Event) { events <- e.Type },
	)

	hub := NewHub(Config{}, zerolog.Nop(), eventBus, m)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	waitClients(t, hub, 1)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	waitClients(t, hub, 0)

	got := map[bus.EventType]bool{}
	for len(got) < 2 {
		select {
		case e := <-events:
			got[e] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectedClients))
}

func TestHub_Closed(t *testing.T) {
	hub, _, ts := newTestServer(t, Config{})
	conn, _ := dial(t, ts)
	waitClients(t, hub, 1)

	require.NoError(t, hub.Close())
	assert.ErrorIs(t, hub.Broadcast(&FrameMessage{}), ErrClosed)
	assert.Zero(t, hub.Clients())

	// the client sees the close frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_MetricsAndHealth(t *testing.T) {
	_, _, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "cortex_lipsync_stream_clients")

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok 0\n", string(body))
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	hub := NewHub(Config{}, zerolog.Nop(), nil, nil)
	srv := NewServer(ServerConfig{}, hub, nil, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.ErrorIs(t, hub.Broadcast(&FrameMessage{}), ErrClosed)
}
