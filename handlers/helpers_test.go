package handlers

import (
	"context"
	"sync"
	"time"
)

// recordingSpeaker collects everything asked to be spoken.
type recordingSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSpeaker) Speak(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recordingSpeaker) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.texts...)
}

func (r *recordingSpeaker) Count(text string) int {
	n := 0
	for _, t := range r.Texts() {
		if t == text {
			n++
		}
	}
	return n
}

// gatedSynthesizer blocks each synthesis until released or cancelled.
type gatedSynthesizer struct {
	gate chan struct{}
}

func (g *gatedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(text), nil
}

// eventPlayer records start/stop/done events and plays until cancelled or
// until duration elapses.
type eventPlayer struct {
	duration time.Duration

	mu     sync.Mutex
	events []string
}

func (p *eventPlayer) Play(ctx context.Context, audio []byte) error {
	p.record("start:" + string(audio))
	var timeout <-chan time.Time
	if p.duration > 0 {
		timeout = time.After(p.duration)
	}
	select {
	case <-ctx.Done():
		p.record("stop:" + string(audio))
		return ctx.Err()
	case <-timeout:
		p.record("done:" + string(audio))
		return nil
	}
}

func (p *eventPlayer) record(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *eventPlayer) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.events...)
}

func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (r *recordingSpeaker) Stop() {}
