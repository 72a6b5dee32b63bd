package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Narration is a Speaker whose current utterance can be silenced.
type Narration interface {
	Speaker
	Stop()
}

type LiveSessionConfig struct {
	Connection  ConnectionConfig
	Pump        FramePumpConfig
	Interpreter InterpreterConfig
}

// LiveSession is one run of live currency detection: a connection to the
// backend, the frame pump feeding it, and the interpreter narrating what
// comes back.
type LiveSession struct {
	ID        string
	Logger    *zap.Logger
	StartTime time.Time

	Connection  *ConnectionManager
	Pump        *FramePump
	Interpreter *Interpreter
	Narration   Narration

	stopOnce sync.Once
}

func NewLiveSession(cfg LiveSessionConfig, dial DialFunc, camera Camera, narration Narration, tokens utils.TokenStore) *LiveSession {
	id := uuid.New().String()

	// Create a logger with session ID context
	logger := zap.L().With(zap.String("session_id", id))

	interpreter := NewInterpreter(cfg.Interpreter, narration, logger)
	conn := NewConnectionManager(cfg.Connection, dial, interpreter, narration, logger)
	if tokens != nil {
		conn.WithTokenStore(tokens)
	}
	pump := NewFramePump(cfg.Pump, camera, conn, narration, logger)

	session := &LiveSession{
		ID:          id,
		Logger:      logger,
		StartTime:   time.Now(),
		Connection:  conn,
		Pump:        pump,
		Interpreter: interpreter,
		Narration:   narration,
	}

	conn.OnStateChange(pump.StateListener())
	conn.OnStateChange(session.onStateChange)
	return session
}

// Start connects. Capture begins once the connection is up.
func (s *LiveSession) Start(ctx context.Context) {
	s.Logger.Info("New live session started", zap.String("endpoint", s.Connection.cfg.Endpoint))
	s.Connection.Connect(ctx)
}

// Stop tears the session down: capture first, then the connection with
// reconnects suppressed, then speech. Close has joined the read loop by the
// time speech stops, so nothing is narrated afterwards. It returns once no
// capture is left in flight.
func (s *LiveSession) Stop() {
	s.stopOnce.Do(func() {
		s.Logger.Info("Stopping session", zap.Duration("uptime", time.Since(s.StartTime)))
		s.Pump.Stop()
		s.Connection.Close()
		s.Narration.Stop()
		s.Pump.Wait()
		s.Interpreter.Reset()

		stats := s.Pump.Stats()
		conn := s.Connection.Stats()
		s.Logger.Info("Live session ended",
			zap.Uint64("frames_sent", stats.Sent),
			zap.Uint64("frames_failed", stats.Failed),
			zap.Uint64("messages", conn.Messages),
			zap.Uint64("parse_errors", conn.ParseErrors),
			zap.Uint64("reconnects", conn.ReconnectsScheduled),
		)
	})
}

// onStateChange drops stale overlay and history when the connection goes
// away, so the first detection after a reconnect is narrated again.
func (s *LiveSession) onStateChange(from, to models.ConnectionState) {
	if from == models.StateConnected && to != models.StateConnected {
		s.Interpreter.Reset()
	}
}
