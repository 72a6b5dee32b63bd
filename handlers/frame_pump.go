package handlers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"go.uber.org/zap"
)

const (
	DEFAULT_FRAME_INTERVAL = 400 * time.Millisecond
	DEFAULT_FRAME_STRIDE   = 3
	DEFAULT_FRAME_SIZE     = 224
	DEFAULT_PHOTO_QUALITY  = 0.3
	CAPTURE_TIMEOUT        = 10 * time.Second
)

// Camera produces stills in temporary storage.
type Camera interface {
	TakePhoto(ctx context.Context, quality float64, flash utils.FlashMode) (utils.Photo, error)
	DeletePhoto(path string) error
}

// FrameSender is satisfied by ConnectionManager.
type FrameSender interface {
	Send(v any) bool
}

type FramePumpConfig struct {
	Interval time.Duration
	Stride   int
	Size     int
	Quality  float64
}

type FramePumpStats struct {
	Ticks         uint64
	StrideSkipped uint64
	BusySkipped   uint64
	Sent          uint64
	Dropped       uint64
	Failed        uint64
}

// FramePump periodically captures a still, down-samples it and hands it to
// the sender. At most one capture is ever in flight.
type FramePump struct {
	cfg     FramePumpConfig
	camera  Camera
	sender  FrameSender
	speaker Speaker
	logger  *zap.Logger

	stride *StrideFilter
	guard  SingleFlight

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ticks         atomic.Uint64
	strideSkipped atomic.Uint64
	busySkipped   atomic.Uint64
	sent          atomic.Uint64
	dropped       atomic.Uint64
	failed        atomic.Uint64
}

func NewFramePump(cfg FramePumpConfig, camera Camera, sender FrameSender, speaker Speaker, logger *zap.Logger) *FramePump {
	if cfg.Interval <= 0 {
		cfg.Interval = DEFAULT_FRAME_INTERVAL
	}
	if cfg.Stride <= 0 {
		cfg.Stride = DEFAULT_FRAME_STRIDE
	}
	if cfg.Size <= 0 {
		cfg.Size = DEFAULT_FRAME_SIZE
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DEFAULT_PHOTO_QUALITY
	}
	if logger == nil {
		logger = zap.L()
	}
	return &FramePump{
		cfg:     cfg,
		camera:  camera,
		sender:  sender,
		speaker: speaker,
		logger:  logger,
		stride:  NewStrideFilter(cfg.Stride),
	}
}

// Start begins ticking. It is a no-op while already running.
func (p *FramePump) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stride.Reset()
	p.wg.Add(1)
	go p.loop(ctx)
	p.logger.Info("Frame pump started", zap.Duration("interval", p.cfg.Interval), zap.Int("stride", p.cfg.Stride))
}

// Stop halts the ticker and cancels an in-flight capture without waiting
// for it; use Wait for that.
func (p *FramePump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.logger.Info("Frame pump stopped")
}

// Wait blocks until the ticker goroutine and any in-flight capture exit.
func (p *FramePump) Wait() {
	p.wg.Wait()
}

func (p *FramePump) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// StateListener ties the pump to a connection: it runs only while connected.
func (p *FramePump) StateListener() StateListener {
	return func(from, to models.ConnectionState) {
		if to == models.StateConnected {
			p.Start()
		} else {
			p.Stop()
		}
	}
}

func (p *FramePump) Stats() FramePumpStats {
	return FramePumpStats{
		Ticks:         p.ticks.Load(),
		StrideSkipped: p.strideSkipped.Load(),
		BusySkipped:   p.busySkipped.Load(),
		Sent:          p.sent.Load(),
		Dropped:       p.dropped.Load(),
		Failed:        p.failed.Load(),
	}
}

func (p *FramePump) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick applies both rate limits. A tick dropped because a capture is busy
// does not count towards the stride.
func (p *FramePump) tick(ctx context.Context) {
	p.ticks.Add(1)
	if p.guard.Busy() {
		p.busySkipped.Add(1)
		return
	}
	if !p.stride.Allow() {
		p.strideSkipped.Add(1)
		return
	}
	if !p.guard.TryAcquire() {
		p.busySkipped.Add(1)
		return
	}
	p.wg.Add(1)
	go p.capture(ctx)
}

func (p *FramePump) capture(ctx context.Context) {
	defer p.wg.Done()
	defer p.guard.Release()

	ctx, cancel := context.WithTimeout(ctx, CAPTURE_TIMEOUT)
	defer cancel()

	frame, err := p.captureFrame(ctx)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return
		}
		p.failed.Add(1)
		p.logger.Error("Frame capture failed", zap.Error(err))
		if p.speaker != nil {
			p.speaker.Speak(models.NARRATION_CAPTURE_ERROR)
		}
		return
	}

	if p.sender.Send(models.NewFrameMessage(frame)) {
		p.sent.Add(1)
		p.logger.Debug("Frame sent", zap.Int("bytes", len(frame.Payload)), zap.Duration("age", time.Since(frame.CapturedAt)))
	} else {
		p.dropped.Add(1)
	}
}

// captureFrame takes a photo and encodes it. The photo is deleted as soon
// as it is encoded, whatever happens to the frame afterwards.
func (p *FramePump) captureFrame(ctx context.Context) (models.Frame, error) {
	photo, err := p.camera.TakePhoto(ctx, p.cfg.Quality, utils.FlashOff)
	if err != nil {
		return models.Frame{}, utils.Wrap(utils.KindCapture, "take_photo", "camera capture failed", err)
	}
	capturedAt := time.Now()

	payload, err := utils.EncodeFrameFile(photo.Path, p.cfg.Size, p.cfg.Size)
	if delErr := p.camera.DeletePhoto(photo.Path); delErr != nil {
		p.logger.Warn("Failed to delete photo", zap.String("path", photo.Path), zap.Error(delErr))
	}
	if err != nil {
		return models.Frame{}, err
	}

	return models.Frame{
		Payload:    payload,
		Width:      p.cfg.Size,
		Height:     p.cfg.Size,
		CapturedAt: capturedAt,
	}, nil
}
