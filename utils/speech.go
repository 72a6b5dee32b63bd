package utils

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/wujunwei928/edge-tts-go/edge_tts"
	"go.uber.org/zap"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/rest"
)

// Synthesizer turns text into playable audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type DeepgramSynthesizer struct {
	client *api.Client
	model  string
}

func NewDeepgramSynthesizer(apiKey, model string) *DeepgramSynthesizer {
	if apiKey == "" {
		zap.L().Error("DEEPGRAM_API_KEY not set, speech synthesis will fail")
	}
	if model == "" {
		model = "aura-asteria-en"
	}
	c := speak.NewREST(apiKey, &interfaces.ClientOptions{})
	return &DeepgramSynthesizer{
		client: api.New(c),
		model:  model,
	}
}

func (d *DeepgramSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	file, err := os.CreateTemp("", "lookout-tts-*.mp3")
	if err != nil {
		return nil, Wrap(KindSpeech, "synthesize", "cannot create temp file", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	options := &interfaces.SpeakOptions{Model: d.model}
	if _, err := d.client.ToSave(ctx, path, text, options); err != nil {
		return nil, Wrap(KindSpeech, "synthesize", "deepgram speak failed", err)
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		return nil, Wrap(KindSpeech, "synthesize", "cannot read synthesized audio", err)
	}
	return audio, nil
}

const EDGE_RECEIVE_TIMEOUT = 10

type EdgeSynthesizer struct {
	voice string

	// stream runs one synthesis round trip; replaced in tests
	stream func(c *edge_tts.Communicate) ([]byte, error)
}

func NewEdgeSynthesizer(voice string) *EdgeSynthesizer {
	if voice == "" {
		voice = "en-US-AriaNeural"
	}
	return &EdgeSynthesizer{
		voice:  EdgeVoiceName(voice),
		stream: (*edge_tts.Communicate).Stream,
	}
}

// Synthesize returns as soon as ctx is done. The abandoned round trip
// finishes in the background and its audio is discarded.
func (e *EdgeSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	communicate, err := edge_tts.NewCommunicate(text,
		edge_tts.SetVoice(e.voice),
		edge_tts.SetReceiveTimeout(EDGE_RECEIVE_TIMEOUT),
	)
	if err != nil {
		return nil, Wrap(KindSpeech, "synthesize", "failed to create edge tts communicator", err)
	}

	type result struct {
		audio []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		audio, err := e.stream(communicate)
		done <- result{audio: audio, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, Wrap(KindSpeech, "synthesize", "edge tts synthesis failed", r.err)
		}
		return r.audio, nil
	}
}

// EdgeVoiceName expands a short voice name such as "en-US-AriaNeural" into
// the long form the Edge service expects. Long names pass through.
func EdgeVoiceName(voice string) string {
	if strings.HasPrefix(voice, "Microsoft Server Speech") {
		return voice
	}
	parts := strings.Split(voice, "-")
	if len(parts) < 3 {
		return voice
	}
	locale := strings.Join(parts[:len(parts)-1], "-")
	name := parts[len(parts)-1]
	return fmt.Sprintf("Microsoft Server Speech Text to Speech Voice (%s, %s)", locale, name)
}

// CachedSynthesizer keeps audio for the most recently synthesized phrases,
// evicting the oldest first.
type CachedSynthesizer struct {
	next    Synthesizer
	maxSize int

	mu    sync.Mutex
	audio map[string][]byte
	order []string
}

func NewCachedSynthesizer(next Synthesizer, maxSize int) *CachedSynthesizer {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &CachedSynthesizer{
		next:    next,
		maxSize: maxSize,
		audio:   make(map[string][]byte),
	}
}

func (c *CachedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	c.mu.Lock()
	if audio, ok := c.audio[text]; ok {
		c.mu.Unlock()
		return audio, nil
	}
	c.mu.Unlock()

	audio, err := c.next.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.audio[text]; !ok {
		c.audio[text] = audio
		c.order = append(c.order, text)
		if len(c.order) > c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.audio, oldest)
		}
	}
	return audio, nil
}

func (c *CachedSynthesizer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

// NewSynthesizer picks the configured TTS backend.
func NewSynthesizer(cfg Config) Synthesizer {
	var base Synthesizer
	switch cfg.TTSProvider {
	case "deepgram":
		base = NewDeepgramSynthesizer(cfg.DeepgramAPIKey, cfg.TTSVoice)
	default:
		base = NewEdgeSynthesizer(cfg.TTSVoice)
	}
	return NewCachedSynthesizer(base, 64)
}
