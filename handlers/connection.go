package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Socket is the subset of *websocket.Conn the manager uses.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type DialFunc func(ctx context.Context, endpoint string, header http.Header) (Socket, error)

// WebsocketDialer dials with gorilla/websocket.
func WebsocketDialer(handshakeTimeout time.Duration) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, endpoint string, header http.Header) (Socket, error) {
		conn, resp, err := dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
			}
			return nil, err
		}
		return conn, nil
	}
}

// MessageHandler receives parsed inbound messages in arrival order.
type MessageHandler interface {
	HandleDetections(detections []models.Detection) string
	HandleBackendError(message string)
}

// StateListener observes state transitions in the order they happen. It
// runs while transitions are being delivered and must not call back into
// the ConnectionManager.
type StateListener func(from, to models.ConnectionState)

type ConnectionConfig struct {
	Endpoint          string
	HeartbeatInterval time.Duration
	Reconnect         ReconnectPolicy
	WriteTimeout      time.Duration
}

type ConnectionStats struct {
	Messages            uint64
	ParseErrors         uint64
	BackendErrors       uint64
	Heartbeats          uint64
	Dials               uint64
	ReconnectsScheduled uint64
}

type stateChange struct {
	from, to models.ConnectionState
}

// ConnectionManager owns the socket to the detection backend: connect,
// heartbeat, reconnect and teardown. All state lives behind mu; listener
// and narration callbacks run outside it, serialized by notifyMu.
type ConnectionManager struct {
	cfg     ConnectionConfig
	dial    DialFunc
	handler MessageHandler
	speaker Speaker
	tokens  utils.TokenStore
	logger  *zap.Logger

	mu             sync.Mutex
	notifyMu       sync.Mutex
	ctx            context.Context
	state          models.ConnectionState
	lastErr        error
	sock           Socket
	gen            uint64
	heartbeatStop  chan struct{}
	dialCancel     context.CancelFunc
	readers        sync.WaitGroup
	reconnectTimer *time.Timer
	reconnectSeq   uint64
	attempts       int
	explicitClose  bool
	listeners      []StateListener
	pending        []stateChange

	messages            atomic.Uint64
	parseErrors         atomic.Uint64
	backendErrors       atomic.Uint64
	heartbeats          atomic.Uint64
	dials               atomic.Uint64
	reconnectsScheduled atomic.Uint64
}

func NewConnectionManager(cfg ConnectionConfig, dial DialFunc, handler MessageHandler, speaker Speaker, logger *zap.Logger) *ConnectionManager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Reconnect.Delay <= 0 {
		cfg.Reconnect = DefaultReconnectPolicy()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if dial == nil {
		dial = WebsocketDialer(10 * time.Second)
	}
	if logger == nil {
		logger = zap.L()
	}
	return &ConnectionManager{
		cfg:     cfg,
		dial:    dial,
		handler: handler,
		speaker: speaker,
		logger:  logger.With(zap.String("endpoint", cfg.Endpoint)),
		ctx:     context.Background(),
		state:   models.StateIdle,
	}
}

// WithTokenStore makes every dial carry the stored bearer token.
func (m *ConnectionManager) WithTokenStore(tokens utils.TokenStore) *ConnectionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
	return m
}

func (m *ConnectionManager) OnStateChange(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *ConnectionManager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err is the visible error indicator; it stays set until the next
// successful connection.
func (m *ConnectionManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *ConnectionManager) HeartbeatActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeatStop != nil
}

func (m *ConnectionManager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectTimer != nil
}

func (m *ConnectionManager) Stats() ConnectionStats {
	return ConnectionStats{
		Messages:            m.messages.Load(),
		ParseErrors:         m.parseErrors.Load(),
		BackendErrors:       m.backendErrors.Load(),
		Heartbeats:          m.heartbeats.Load(),
		Dials:               m.dials.Load(),
		ReconnectsScheduled: m.reconnectsScheduled.Load(),
	}
}

// Connect tears down any existing socket and dials a new one. ctx bounds
// this dial and every automatic reconnect after it. Failures are never
// returned; they become state changes.
func (m *ConnectionManager) Connect(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.explicitClose = false
	m.attempts = 0
	m.cancelReconnectLocked()
	gen, dialCtx := m.beginConnectLocked(ctx)
	m.unlockAndNotify()

	m.open(dialCtx, gen)
}

// beginConnectLocked moves to connecting and returns the generation of the
// new attempt with a dial context that Close cancels.
func (m *ConnectionManager) beginConnectLocked(ctx context.Context) (uint64, context.Context) {
	m.dropSocketLocked()
	m.cancelDialLocked()
	m.gen++
	dialCtx, cancel := context.WithCancel(ctx)
	m.dialCancel = cancel
	m.setStateLocked(models.StateConnecting)
	return m.gen, dialCtx
}

func (m *ConnectionManager) cancelDialLocked() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

// open dials for attempt gen. The result is discarded when a newer attempt
// or a Close happened meanwhile.
func (m *ConnectionManager) open(ctx context.Context, gen uint64) {
	m.mu.Lock()
	tokens := m.tokens
	m.mu.Unlock()

	header := http.Header{}
	if auth := utils.BearerHeader(ctx, tokens); auth != "" {
		header.Set("Authorization", auth)
	}
	m.dials.Add(1)
	sock, err := m.dial(ctx, m.cfg.Endpoint, header)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		return
	}
	m.cancelDialLocked()
	if err != nil {
		m.failLocked(utils.Wrap(utils.KindTransport, "connect", "websocket connection failed", err))
		m.closedLocked()
		m.unlockAndNotify()
		return
	}

	m.logger.Info("WebSocket connected")
	m.sock = sock
	m.lastErr = nil
	m.attempts = 0
	m.setStateLocked(models.StateConnected)
	m.startHeartbeatLocked(gen)
	m.readers.Add(1)
	go m.readLoop(gen, sock)
	m.unlockAndNotify()
}

// Send writes v as a JSON text frame when connected and reports whether it
// was written. While not connected it is a no-op.
func (m *ConnectionManager) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Failed to encode outbound message", zap.Error(err))
		return false
	}

	m.mu.Lock()
	if m.state != models.StateConnected || m.sock == nil {
		m.mu.Unlock()
		return false
	}
	ok := m.writeLocked(data)
	m.unlockAndNotify()
	return ok
}

// Close is the explicit teardown: no reconnect is scheduled afterwards and
// the state becomes idle. It cancels a dial in progress and returns once the
// read loop, including a message being dispatched, has exited.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	m.explicitClose = true
	m.cancelReconnectLocked()
	m.cancelDialLocked()
	m.dropSocketLocked()
	m.gen++
	m.setStateLocked(models.StateIdle)
	m.unlockAndNotify()

	m.readers.Wait()
	m.logger.Info("Connection closed")
}

func (m *ConnectionManager) writeLocked(data []byte) bool {
	m.sock.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := m.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		m.sock.Close()
		m.failLocked(utils.Wrap(utils.KindTransport, "send", "websocket write failed", err))
		m.closedLocked()
		return false
	}
	return true
}

func (m *ConnectionManager) readLoop(gen uint64, sock Socket) {
	defer m.readers.Done()
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			m.handleReadError(gen, sock, err)
			return
		}
		if !m.isCurrent(gen) {
			return
		}
		m.dispatch(data)
	}
}

func (m *ConnectionManager) handleReadError(gen uint64, sock Socket, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	sock.Close()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Info("WebSocket disconnected", zap.Error(err))
	} else {
		m.failLocked(utils.Wrap(utils.KindTransport, "read", "websocket error", err))
	}
	m.closedLocked()
	m.unlockAndNotify()
}

func (m *ConnectionManager) dispatch(data []byte) {
	m.messages.Add(1)

	var msg models.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.parseErrors.Add(1)
		m.logger.Debug("Data parse error", zap.Error(utils.Wrap(utils.KindParse, "dispatch", "malformed inbound payload", err)))
		return
	}

	switch {
	case msg.IsDetection():
		m.handler.HandleDetections(*msg.Detections)
	case msg.IsError():
		m.backendErrors.Add(1)
		m.handler.HandleBackendError(msg.Error)
	default:
		m.logger.Debug("Ignoring unrecognised message", zap.ByteString("payload", data))
	}
}

func (m *ConnectionManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *ConnectionManager) failLocked(err error) {
	m.logger.Warn("WebSocket connection failed", zap.Error(err))
	m.lastErr = err
	m.setStateLocked(models.StateError)
}

// closedLocked is the single close transition: heartbeat off, state
// disconnected, and one reconnect unless the teardown was explicit.
func (m *ConnectionManager) closedLocked() {
	m.stopHeartbeatLocked()
	m.sock = nil
	m.gen++
	m.setStateLocked(models.StateDisconnected)
	if !m.explicitClose {
		m.scheduleReconnectLocked()
	}
}

func (m *ConnectionManager) dropSocketLocked() {
	m.stopHeartbeatLocked()
	if m.sock == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	m.sock.SetWriteDeadline(deadline)
	m.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	m.sock.Close()
	m.sock = nil
}

func (m *ConnectionManager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil {
		return
	}
	attempt := m.attempts + 1
	if !m.cfg.Reconnect.Allows(attempt) {
		m.logger.Warn("Giving up reconnecting", zap.Int("attempts", m.attempts))
		return
	}
	delay := m.cfg.Reconnect.NextDelay(attempt)
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnect(seq) })
	m.reconnectsScheduled.Add(1)
	m.logger.Info("Reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", attempt))
}

func (m *ConnectionManager) cancelReconnectLocked() {
	if m.reconnectTimer == nil {
		return
	}
	m.reconnectTimer.Stop()
	m.reconnectTimer = nil
	m.reconnectSeq++
}

func (m *ConnectionManager) reconnect(seq uint64) {
	m.mu.Lock()
	if m.explicitClose || m.reconnectTimer == nil || seq != m.reconnectSeq {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.attempts++
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	gen, dialCtx := m.beginConnectLocked(m.ctx)
	m.unlockAndNotify()

	m.open(dialCtx, gen)
}

func (m *ConnectionManager) startHeartbeatLocked(gen uint64) {
	stop := make(chan struct{})
	m.heartbeatStop = stop
	go m.heartbeatLoop(gen, stop)
}

func (m *ConnectionManager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *ConnectionManager) heartbeatLoop(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	data, _ := json.Marshal(models.NewHeartbeatMessage())
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if gen != m.gen || m.heartbeatStop != stop || m.state != models.StateConnected {
			m.mu.Unlock()
			return
		}
		if m.writeLocked(data) {
			m.heartbeats.Add(1)
		}
		m.unlockAndNotify()
	}
}

func (m *ConnectionManager) setStateLocked(to models.ConnectionState) {
	if m.state == to {
		return
	}
	m.pending = append(m.pending, stateChange{from: m.state, to: to})
	m.state = to
}

// unlockAndNotify releases mu and delivers queued transitions. Taking
// notifyMu before releasing mu keeps delivery in transition order.
func (m *ConnectionManager) unlockAndNotify() {
	changes := m.pending
	m.pending = nil
	if len(changes) == 0 {
		m.mu.Unlock()
		return
	}
	listeners := append([]StateListener(nil), m.listeners...)

	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, c := range changes {
		m.logger.Debug("Connection state changed", zap.Stringer("from", c.from), zap.Stringer("to", c.to))
		m.announce(c)
		for _, listener := range listeners {
			listener(c.from, c.to)
		}
	}
}

func (m *ConnectionManager) announce(c stateChange) {
	if m.speaker == nil {
		return
	}
	switch {
	case c.to == models.StateConnected:
		m.speaker.Speak(models.NARRATION_CONNECTED)
	case c.to == models.StateError:
		m.speaker.Speak(models.NARRATION_CONNECT_ERROR)
	case c.from == models.StateConnected && c.to == models.StateDisconnected:
		m.speaker.Speak(models.NARRATION_DISCONNECTED)
	}
}
