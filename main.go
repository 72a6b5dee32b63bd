package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/handlers"
	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	STATUS_INTERVAL  = 30 * time.Second
	SPEECH_DRAIN_MAX = 30 * time.Second
)

const usage = `usage: lookout [live | detect [image] | ocr [image] | history [clear]]`

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Set up logging
	logger, err := utils.NewLogger(cfg.LogLevel, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	// Set up signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Lookout exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

type app struct {
	cfg        utils.Config
	redis      *redis.Client
	activities utils.ActivityStore
	tokens     utils.TokenStore
	narrator   *handlers.Narrator
}

func run(ctx context.Context, cfg utils.Config, args []string) error {
	mode := "live"
	if len(args) > 0 {
		mode = args[0]
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch mode {
	case "live":
		return a.runLive(ctx)
	case "detect", "ocr":
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		return a.runImage(ctx, mode, path)
	case "history":
		if len(args) > 1 && args[1] == "clear" {
			return a.clearHistory(ctx)
		}
		return a.showHistory(ctx)
	default:
		return fmt.Errorf("unknown mode %q\n%s", mode, usage)
	}
}

// newApp connects to Redis when configured and falls back to an in-memory
// activity log without a token store otherwise.
func newApp(ctx context.Context, cfg utils.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.RedisHost != "" {
		client, err := utils.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		zap.L().Info("Successfully connected to Redis", zap.String("addr", cfg.RedisHost))
		a.redis = client
		a.activities = utils.NewRedisActivityStore(client)
		a.tokens = utils.NewRedisTokenStore(client)
	} else {
		zap.L().Warn("REDIS_HOST not set, activity history is kept in memory only")
		a.activities = utils.NewMemoryActivityStore()
	}

	a.narrator = handlers.NewNarrator(utils.NewSynthesizer(cfg), utils.NewExecPlayer(cfg.AudioPlayer), zap.L())
	return a, nil
}

func (a *app) close() {
	a.narrator.Stop()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			zap.L().Warn("Failed to close Redis client", zap.Error(err))
		}
	}
}

func (a *app) camera() handlers.Camera {
	if a.cfg.CameraSource == "" || a.cfg.CameraSource == "ffmpeg" {
		return utils.NewCameraCapture(a.cfg.CameraDevice)
	}
	return utils.NewFileCamera(a.cfg.CameraSource)
}

func (a *app) runLive(ctx context.Context) error {
	session := handlers.NewLiveSession(handlers.LiveSessionConfig{
		Connection: handlers.ConnectionConfig{
			Endpoint:          a.cfg.StreamURL,
			HeartbeatInterval: a.cfg.HeartbeatInterval,
			Reconnect: handlers.ReconnectPolicy{
				Delay:       a.cfg.ReconnectDelay,
				MaxDelay:    a.cfg.ReconnectDelay,
				MaxAttempts: a.cfg.ReconnectMaxAttempts,
			},
		},
		Pump: handlers.FramePumpConfig{
			Interval: a.cfg.FrameInterval,
			Stride:   a.cfg.FrameStride,
			Size:     a.cfg.FrameSize,
		},
		Interpreter: handlers.InterpreterConfig{
			Screen: models.ScreenSize{Width: a.cfg.ScreenWidth, Height: a.cfg.ScreenHeight},
		},
	}, handlers.WebsocketDialer(10*time.Second), a.camera(), a.narrator, a.tokens)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		session.Start(gctx)
		<-gctx.Done()
		session.Stop()
		return gctx.Err()
	})

	// Periodic status line
	g.Go(func() error {
		ticker := time.NewTicker(STATUS_INTERVAL)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				frames := session.Pump.Stats()
				conn := session.Connection.Stats()
				session.Logger.Debug("Session heartbeat",
					zap.Stringer("state", session.Connection.State()),
					zap.Duration("uptime", time.Since(session.StartTime)),
					zap.Uint64("frames_sent", frames.Sent),
					zap.Uint64("frames_busy_skipped", frames.BusySkipped),
					zap.Uint64("messages", conn.Messages),
					zap.Int("overlay_boxes", len(session.Interpreter.Overlay())),
				)
			}
		}
	})

	return g.Wait()
}

// runImage runs a single-image flow on path, or on a fresh photo from the
// camera when path is empty.
func (a *app) runImage(ctx context.Context, mode, path string) error {
	flash, err := utils.ParseFlashMode(a.cfg.CameraFlash)
	if err != nil {
		return err
	}
	client := handlers.NewDetectionClient(a.cfg.BaseURL, a.activities, a.tokens, a.narrator, zap.L()).
		WithCamera(a.camera(), flash)
	defer a.drainSpeech(ctx)

	if mode == "ocr" {
		var result models.TextDetectionResult
		if path == "" {
			result, err = client.CaptureAndDetectText(ctx)
		} else {
			result, err = client.DetectText(ctx, path)
		}
		for _, line := range result.Text {
			fmt.Println(line)
		}
		return err
	}

	var result models.ObjectDetectionResult
	if path == "" {
		result, err = client.CaptureAndDetectObjects(ctx)
	} else {
		result, err = client.DetectObjects(ctx, path)
	}
	if err != nil {
		return err
	}
	for _, d := range result.Detections {
		fmt.Printf("%-20s %.2f\n", d.ClassName, d.Confidence)
	}

	out := annotatedPath(path)
	if err := handlers.WriteAnnotatedImage(result, out); err != nil {
		zap.L().Warn("Failed to save annotated image", zap.Error(err))
		return nil
	}
	fmt.Println("Annotated image:", out)
	return nil
}

func annotatedPath(source string) string {
	if source == "" {
		return fmt.Sprintf("lookout-annotated-%s.jpg", time.Now().Format("20060102-150405"))
	}
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + "-annotated.jpg"
}

func (a *app) showHistory(ctx context.Context) error {
	activities, err := a.activities.List(ctx)
	if err != nil {
		return err
	}
	if len(activities) == 0 {
		fmt.Println("No recent activity")
		return nil
	}
	for _, activity := range activities {
		fmt.Printf("%s  %-16s  %s\n", activity.Timestamp.Local().Format(time.DateTime), activity.Type, activity.Summary)
	}

	// Read back the newest entry like the recent activity screen does
	a.narrator.Speak(handlers.ActivityNarration(activities[0]))
	a.drainSpeech(ctx)
	return nil
}

func (a *app) clearHistory(ctx context.Context) error {
	if err := a.activities.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("Activity history cleared")
	return nil
}

// drainSpeech lets the final narration play out before the process exits.
func (a *app) drainSpeech(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, SPEECH_DRAIN_MAX)
	defer cancel()
	if err := a.narrator.Wait(ctx); err != nil {
		zap.L().Debug("Narration cut short", zap.Error(err))
	}
}
