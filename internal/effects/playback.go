package effects

import (
	"context"
	"log/slog"
)

// PlaybackResource is an exclusively owned playback slot for one effect sound.
// Stop releases it; the handle must not be reused afterwards.
type PlaybackResource interface {
	Stop()
}

// PlaybackProvider is the platform audio integration. Open claims the audio
// device for the session; Acquire decodes a sound profile into a playable
// resource. Acquire may be slow; the scheduler never calls it under its lock.
type PlaybackProvider interface {
	Open(ctx context.Context) error
	Acquire(ctx context.Context, soundProfile string) (PlaybackResource, error)
}

// NopProvider satisfies PlaybackProvider without touching any device. Used in
// deployments where playback rendering happens in the overlay process and the
// engine only sequences.
type NopProvider struct {
	logger *slog.Logger
}

func NewNopProvider(logger *slog.Logger) *NopProvider {
	return &NopProvider{logger: logger}
}

func (p *NopProvider) Open(ctx context.Context) error { return nil }

func (p *NopProvider) Acquire(ctx context.Context, soundProfile string) (PlaybackResource, error) {
	if p.logger != nil {
		p.logger.Debug("playback acquired", "profile", soundProfile)
	}
	return nopResource{}, nil
}

type nopResource struct{}

func (nopResource) Stop() {}
