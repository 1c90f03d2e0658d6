package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Type identifies an outbound overlay event.
type Type string

const (
	ShowCountdown  Type = "show_countdown"
	HideCountdown  Type = "hide_countdown"
	ShowSpotlight  Type = "show_spotlight"
	HideSpotlight  Type = "hide_spotlight"
	MuteOpponent   Type = "mute_opponent"
	UnmuteOpponent Type = "unmute_opponent"
	CinematicOutro Type = "cinematic_outro"
	LockUI         Type = "lock_ui"
	BattleEnded    Type = "battle_ended"
)

// Event is the envelope delivered to overlay consumers.
type Event struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Payload shapes for the typed events.
type (
	CountdownPayload struct {
		DurationMS int64 `json:"duration_ms"`
	}
	SpotlightPayload struct {
		Team string `json:"team"`
	}
	MutePayload struct {
		DurationMS int64 `json:"duration_ms"`
	}
	LockPayload struct {
		Locked bool `json:"locked"`
	}
	BattleEndedPayload struct {
		MatchID string `json:"match_id"`
	}
)

// Bus is an in-process fire-and-forget publisher. A slow subscriber drops
// events rather than blocking the engine; Close detaches every subscriber so
// nothing is delivered after teardown.
type Bus struct {
	mu     sync.Mutex
	logger *slog.Logger
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a consumer. The returned cancel detaches it; the channel
// is closed on cancel or bus teardown.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish marshals the payload and delivers the event to every subscriber,
// at most once each, without blocking.
func (b *Bus) Publish(t Type, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			if b.logger != nil {
				b.logger.Error("marshal event payload", "type", string(t), "err", err)
			}
			return
		}
		raw = data
	}
	ev := Event{Type: t, Payload: raw}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.logger != nil {
				b.logger.Warn("subscriber buffer full, event dropped", "sub", id, "type", string(t))
			}
		}
	}
}

// Close detaches all subscribers. Further publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
