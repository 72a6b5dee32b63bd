package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDetectionBackend answers every frame with one detection and counts
// frames and connections.
func newDetectionBackend(t *testing.T, frames, connections *atomic.Int32) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		connections.Add(1)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var msg models.FrameMessage
			if json.Unmarshal(data, &msg) != nil || msg.Frame == "" {
				continue
			}
			frames.Add(1)
			reply := `{"detections":[{"label":"hundred_rupees","confidence":0.93,"bbox":[22.4,44.8,112,224]}]}`
			if ws.WriteMessage(websocket.TextMessage, []byte(reply)) != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLiveSessionStreamsAndNarrates(t *testing.T) {
	var frames, connections atomic.Int32
	server := newDetectionBackend(t, &frames, &connections)

	speaker := &recordingSpeaker{}
	camera := &gatedCamera{source: utils.NewFileCamera(writeTestImage(t))}
	session := NewLiveSession(LiveSessionConfig{
		Connection: ConnectionConfig{
			Endpoint:          "ws" + strings.TrimPrefix(server.URL, "http"),
			HeartbeatInterval: time.Hour,
			Reconnect:         ReconnectPolicy{Delay: 50 * time.Millisecond},
		},
		Pump:        FramePumpConfig{Interval: 10 * time.Millisecond, Stride: 1},
		Interpreter: InterpreterConfig{Screen: models.ScreenSize{Width: 1000, Height: 500}},
	}, WebsocketDialer(time.Second), camera, speaker, nil)
	assert.NotEmpty(t, session.ID)

	session.Start(context.Background())
	require.Equal(t, models.StateConnected, session.Connection.State())
	assert.True(t, session.Pump.Running())

	require.True(t, eventually(3*time.Second, func() bool {
		return frames.Load() >= 3 && len(session.Interpreter.Overlay()) == 1
	}))

	box := session.Interpreter.Overlay()[0]
	assert.Equal(t, "hundred rupees", box.Label)
	assert.InDelta(t, 100, box.Left, 1e-9)
	assert.InDelta(t, 100, box.Top, 1e-9)
	assert.InDelta(t, 400, box.Width, 1e-9)
	assert.InDelta(t, 400, box.Height, 1e-9)

	// identical detections are narrated once
	assert.Equal(t, 1, speaker.Count("hundred rupees"))
	assert.Equal(t, 1, speaker.Count(models.NARRATION_CONNECTED))

	session.Stop()
	assert.Equal(t, models.StateIdle, session.Connection.State())
	assert.False(t, session.Pump.Running())
	assert.False(t, session.Connection.ReconnectPending())
	assert.False(t, session.Connection.HeartbeatActive())

	sent := frames.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, sent, frames.Load())
	assert.Equal(t, int32(1), connections.Load())
	assert.Equal(t, 0, speaker.Count(models.NARRATION_DISCONNECTED))

	// stopping twice is harmless
	session.Stop()
}

func TestLiveSessionPumpIdleWhileDisconnected(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	camera := &gatedCamera{source: utils.NewFileCamera(writeTestImage(t))}
	session := NewLiveSession(LiveSessionConfig{
		Connection: ConnectionConfig{Endpoint: "ws://backend/ws/currency/", Reconnect: ReconnectPolicy{Delay: time.Hour}},
		Pump:       FramePumpConfig{Interval: 5 * time.Millisecond, Stride: 1},
	}, dialer.Dial, camera, &recordingSpeaker{}, nil)
	defer session.Stop()

	session.Start(context.Background())
	assert.Equal(t, models.StateDisconnected, session.Connection.State())
	assert.False(t, session.Pump.Running())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), camera.calls.Load())
	assert.Equal(t, uint64(0), session.Pump.Stats().Ticks)
}

func TestLiveSessionResetsInterpreterOnDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	speaker := &recordingSpeaker{}
	camera := &gatedCamera{source: utils.NewFileCamera(writeTestImage(t))}
	session := NewLiveSession(LiveSessionConfig{
		Connection: ConnectionConfig{
			Endpoint:          "ws://backend/ws/currency/",
			HeartbeatInterval: time.Hour,
			Reconnect:         ReconnectPolicy{Delay: 20 * time.Millisecond},
		},
		Pump: FramePumpConfig{Interval: time.Hour},
	}, dialer.Dial, camera, speaker, nil)
	defer session.Stop()

	session.Start(context.Background())
	detection := []byte(`{"detections":[{"label":"ten_rupees","confidence":0.9,"bbox":[0,0,10,10]}]}`)
	dialer.Socket(0).inbound <- detection
	require.True(t, eventually(time.Second, func() bool { return speaker.Count("ten rupees") == 1 }))

	dialer.Socket(0).remoteClose(nil)
	require.True(t, eventually(time.Second, func() bool { return dialer.Socket(1) != nil && session.Connection.State() == models.StateConnected }))

	dialer.Socket(1).inbound <- detection
	require.True(t, eventually(time.Second, func() bool { return speaker.Count("ten rupees") == 2 }))
}
