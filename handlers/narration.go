package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"go.uber.org/zap"
)

// Speaker is the narration capability the rest of the session depends on.
type Speaker interface {
	Speak(text string)
}

// Hooks are optional completion callbacks, run on the narration goroutine.
type Hooks struct {
	OnStart   func(text string)
	OnDone    func(text string)
	OnStopped func(text string)
	OnError   func(text string, err error)
}

type utterance struct {
	text   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Narrator serializes spoken output: a new utterance cancels the current one
// and only starts once the previous has fully stopped. Nothing is queued.
type Narrator struct {
	synth  utils.Synthesizer
	player utils.Player
	hooks  Hooks
	logger *zap.Logger

	mu      sync.Mutex
	current *utterance
}

func NewNarrator(synth utils.Synthesizer, player utils.Player, logger *zap.Logger) *Narrator {
	if logger == nil {
		logger = zap.L()
	}
	return &Narrator{
		synth:  synth,
		player: player,
		logger: logger,
	}
}

func (n *Narrator) SetHooks(hooks Hooks) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hooks = hooks
}

// Speak returns immediately. Empty text is ignored.
func (n *Narrator) Speak(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &utterance{text: text, cancel: cancel, done: make(chan struct{})}

	n.mu.Lock()
	prev := n.current
	n.current = u
	hooks := n.hooks
	n.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	go n.run(ctx, u, prev, hooks)
}

// Stop cancels whatever is being spoken and waits until it is silent.
func (n *Narrator) Stop() {
	n.mu.Lock()
	u := n.current
	n.current = nil
	n.mu.Unlock()

	if u != nil {
		u.cancel()
		<-u.done
	}
}

// Wait blocks until the current utterance, and any that replaces it, has
// finished or ctx is done.
func (n *Narrator) Wait(ctx context.Context) error {
	for {
		n.mu.Lock()
		u := n.current
		n.mu.Unlock()
		if u == nil {
			return nil
		}
		select {
		case <-u.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *Narrator) IsSpeaking() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current != nil
}

func (n *Narrator) run(ctx context.Context, u *utterance, prev *utterance, hooks Hooks) {
	defer close(u.done)
	defer u.cancel()
	defer func() {
		n.mu.Lock()
		if n.current == u {
			n.current = nil
		}
		n.mu.Unlock()
	}()

	if prev != nil {
		<-prev.done
	}
	if ctx.Err() != nil {
		call(hooks.OnStopped, u.text)
		return
	}

	audio, err := n.synth.Synthesize(ctx, u.text)
	if err != nil {
		if ctx.Err() != nil {
			call(hooks.OnStopped, u.text)
			return
		}
		n.logger.Error("Failed to synthesize narration", zap.Error(err), zap.String("text", u.text))
		if hooks.OnError != nil {
			hooks.OnError(u.text, err)
		}
		return
	}

	n.logger.Debug("Speaking", zap.String("text", u.text))
	call(hooks.OnStart, u.text)
	err = n.player.Play(ctx, audio)
	switch {
	case ctx.Err() != nil:
		call(hooks.OnStopped, u.text)
	case err != nil:
		n.logger.Error("Failed to play narration", zap.Error(err), zap.String("text", u.text))
		if hooks.OnError != nil {
			hooks.OnError(u.text, err)
		}
	default:
		call(hooks.OnDone, u.text)
	}
}

func call(fn func(string), text string) {
	if fn != nil {
		fn(text)
	}
}
