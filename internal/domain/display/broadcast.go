package display

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicq/clinicq/internal/domain/queue"
	"github.com/clinicq/clinicq/internal/platform/websocket"
)

// Event types pushed to subscribers.
const (
	EventPublicBoard = "board.public"
	EventAdminBoard  = "board.admin"
	EventToast       = "toast"
)

const pushTimeout = 5 * time.Second

// Publisher delivers an event on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, data []byte) error
}

// Signage receives every public board snapshot.
type Signage interface {
	Publish(ctx context.Context, payload []byte) error
}

// Broadcaster renders boards whenever the queue reports a change and pushes
// them out. It implements queue.Notifier.
type Broadcaster struct {
	boards  *Handler
	pub     Publisher
	signage Signage
	logger  zerolog.Logger

	mu         sync.Mutex
	lastPublic []byte
}

var _ queue.Notifier = (*Broadcaster)(nil)

// NewBroadcaster wires the push path. signage may be nil.
func NewBroadcaster(boards *Handler, pub Publisher, signage Signage, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		boards:  boards,
		pub:     pub,
		signage: signage,
		logger:  logger.With().Str("component", "broadcast").Logger(),
	}
}

func (b *Broadcaster) Toast(sessionID string, t queue.Toast) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, websocket.AdminTopic(sessionID), EventToast, data); err != nil {
		b.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to push toast")
	}
}

// BoardChanged re-renders the admin board of sessionID, or the public board
// when sessionID is empty. Public snapshots identical to the previous one
// are not re-sent.
func (b *Broadcaster) BoardChanged(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if sessionID != "" {
		data, err := b.adminPayload(ctx, sessionID)
		if err != nil {
			return
		}
		if err := b.pub.Publish(ctx, websocket.AdminTopic(sessionID), EventAdminBoard, data); err != nil {
			b.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to push admin board")
		}
		return
	}

	data, err := json.Marshal(b.boards.Public(ctx))
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to encode public board")
		return
	}
	b.mu.Lock()
	if bytes.Equal(data, b.lastPublic) {
		b.mu.Unlock()
		return
	}
	b.lastPublic = data
	b.mu.Unlock()

	if err := b.pub.Publish(ctx, websocket.TopicDisplay, EventPublicBoard, data); err != nil {
		b.logger.Warn().Err(err).Msg("failed to push public board")
	}
	if b.signage != nil {
		if err := b.signage.Publish(ctx, data); err != nil {
			b.logger.Warn().Err(err).Msg("failed to forward public board to signage")
		}
	}
}

func (b *Broadcaster) adminPayload(ctx context.Context, sessionID string) ([]byte, error) {
	view, err := b.boards.Admin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(view)
}

// Snapshot renders the current state of topic for a newly subscribed
// client.
func (b *Broadcaster) Snapshot(topic string) (eventType string, data []byte, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	switch {
	case topic == websocket.TopicDisplay:
		data, err := json.Marshal(b.boards.Public(ctx))
		if err != nil {
			return "", nil, false
		}
		return EventPublicBoard, data, true
	case strings.HasPrefix(topic, websocket.AdminTopicPrefix):
		data, err := b.adminPayload(ctx, strings.TrimPrefix(topic, websocket.AdminTopicPrefix))
		if err != nil {
			return "", nil, false
		}
		return EventAdminBoard, data, true
	default:
		return "", nil, false
	}
}
