package utils

import (
	"context"
	"os"
	"os/exec"
)

// Player plays audio and returns when playback finishes or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// ExecPlayer plays audio through an external command, ffplay by default.
// Cancelling ctx kills the process, which is how an utterance is stopped.
type ExecPlayer struct {
	Binary string
	Args   []string
}

func NewExecPlayer(binary string) *ExecPlayer {
	if binary == "" || binary == "ffplay" {
		return &ExecPlayer{
			Binary: "ffplay",
			Args:   []string{"-nodisp", "-autoexit", "-loglevel", "quiet"},
		}
	}
	return &ExecPlayer{Binary: binary}
}

func (p *ExecPlayer) Play(ctx context.Context, audio []byte) error {
	file, err := os.CreateTemp("", "lookout-speech-*.mp3")
	if err != nil {
		return Wrap(KindSpeech, "play", "cannot create temp file", err)
	}
	path := file.Name()
	defer os.Remove(path)

	if _, err := file.Write(audio); err != nil {
		file.Close()
		return Wrap(KindSpeech, "play", "cannot write audio", err)
	}
	file.Close()

	args := append(append([]string{}, p.Args...), path)
	err = exec.CommandContext(ctx, p.Binary, args...).Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return Wrap(KindSpeech, "play", "audio player failed", err)
	}
	return nil
}
