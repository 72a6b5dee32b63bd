package utils

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lpernett/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const CONFIG_FILE_ENV = "LOOKOUT_CONFIG"

type Config struct {
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`

	RedisHost     string `yaml:"redis_host"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	TTSProvider    string `yaml:"tts_provider"`
	TTSVoice       string `yaml:"tts_voice"`
	DeepgramAPIKey string `yaml:"deepgram_api_key"`
	AudioPlayer    string `yaml:"audio_player"`

	CameraDevice int    `yaml:"camera_device"`
	CameraSource string `yaml:"camera_source"`
	CameraFlash  string `yaml:"camera_flash"`

	FrameInterval        time.Duration `yaml:"frame_interval"`
	FrameStride          int           `yaml:"frame_stride"`
	FrameSize            int           `yaml:"frame_size"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`

	ScreenWidth  float64 `yaml:"screen_width"`
	ScreenHeight float64 `yaml:"screen_height"`

	LogLevel string `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost",
		TTSProvider:       "edge",
		TTSVoice:          "en-US-AriaNeural",
		AudioPlayer:       "ffplay",
		CameraSource:      "ffmpeg",
		CameraFlash:       string(FlashAuto),
		FrameInterval:     400 * time.Millisecond,
		FrameStride:       3,
		FrameSize:         224,
		HeartbeatInterval: 5 * time.Second,
		ReconnectDelay:    3 * time.Second,
		ScreenWidth:       1080,
		ScreenHeight:      1920,
		LogLevel:          "info",
	}
}

// LoadConfig reads .env, then the optional YAML file named by LOOKOUT_CONFIG,
// then lets the process environment override both.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Warn("Error loading .env file", zap.Error(err))
	}

	cfg := DefaultConfig()
	if path := os.Getenv(CONFIG_FILE_ENV); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if cfg.StreamURL == "" {
		stream, err := StreamURLFromBase(cfg.BaseURL)
		if err != nil {
			return Config{}, err
		}
		cfg.StreamURL = stream
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Wrap(KindConfig, "read_file", "cannot read config file", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return Wrap(KindConfig, "parse_file", "invalid config file", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("BASE_URL", &c.BaseURL)
	str("STREAM_URL", &c.StreamURL)
	str("REDIS_HOST", &c.RedisHost)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("TTS_PROVIDER", &c.TTSProvider)
	str("TTS_VOICE", &c.TTSVoice)
	str("DEEPGRAM_API_KEY", &c.DeepgramAPIKey)
	str("AUDIO_PLAYER", &c.AudioPlayer)
	str("CAMERA_SOURCE", &c.CameraSource)
	str("CAMERA_FLASH", &c.CameraFlash)
	str("LOG_LEVEL", &c.LogLevel)

	ints := map[string]*int{
		"REDIS_DB":               &c.RedisDB,
		"CAMERA_DEVICE":          &c.CameraDevice,
		"FRAME_STRIDE":           &c.FrameStride,
		"FRAME_SIZE":             &c.FrameSize,
		"RECONNECT_MAX_ATTEMPTS": &c.ReconnectMaxAttempts,
	}
	for key, dst := range ints {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Wrap(KindConfig, "env", fmt.Sprintf("%s must be an integer", key), err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"FRAME_INTERVAL":     &c.FrameInterval,
		"HEARTBEAT_INTERVAL": &c.HeartbeatInterval,
		"RECONNECT_DELAY":    &c.ReconnectDelay,
	}
	for key, dst := range durations {
		v := getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Wrap(KindConfig, "env", fmt.Sprintf("%s must be a duration", key), err)
		}
		*dst = d
	}

	floats := map[string]*float64{
		"SCREEN_WIDTH":  &c.ScreenWidth,
		"SCREEN_HEIGHT": &c.ScreenHeight,
	}
	for key, dst := range floats {
		v := getenv(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Wrap(KindConfig, "env", fmt.Sprintf("%s must be a number", key), err)
		}
		*dst = f
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.FrameInterval <= 0:
		return NewError(KindConfig, "validate", "frame_interval must be positive")
	case c.FrameStride <= 0:
		return NewError(KindConfig, "validate", "frame_stride must be positive")
	case c.FrameSize <= 0:
		return NewError(KindConfig, "validate", "frame_size must be positive")
	case c.HeartbeatInterval <= 0:
		return NewError(KindConfig, "validate", "heartbeat_interval must be positive")
	case c.ReconnectDelay <= 0:
		return NewError(KindConfig, "validate", "reconnect_delay must be positive")
	case c.ReconnectMaxAttempts < 0:
		return NewError(KindConfig, "validate", "reconnect_max_attempts must not be negative")
	case c.ScreenWidth <= 0 || c.ScreenHeight <= 0:
		return NewError(KindConfig, "validate", "screen dimensions must be positive")
	case c.StreamURL == "":
		return NewError(KindConfig, "validate", "stream_url is required")
	}
	if _, err := ParseFlashMode(c.CameraFlash); err != nil {
		return err
	}
	return nil
}

// StreamURLFromBase derives the currency stream endpoint from the HTTP base
// URL so both flows share one backend host.
func StreamURLFromBase(base string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil || u.Host == "" {
		return "", NewError(KindConfig, "stream_url", fmt.Sprintf("invalid base url %q", base))
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if u.Port() == "" {
		u.Host = u.Host + ":8000"
	}
	u.Path = "/ws/currency/"
	return u.String(), nil
}

// APIURL joins the backend's HTTP API path onto the base URL, using the same
// default port as the stream endpoint.
func APIURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil || u.Host == "" {
		return "", NewError(KindConfig, "api_url", fmt.Sprintf("invalid base url %q", base))
	}
	if u.Port() == "" {
		u.Host = u.Host + ":8000"
	}
	u.Path = "/api/" + strings.TrimPrefix(path, "/")
	return u.String(), nil
}
