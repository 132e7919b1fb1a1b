// Package events delivers outbound notifications about processing and
// storage state to in-process subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

type Publisher interface {
	Publish(ctx context.Context, e models.Event)
}

type Subscriber interface {
	Handle(ctx context.Context, e models.Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e models.Event)

func (f SubscriberFunc) Handle(ctx context.Context, e models.Event) { f(ctx, e) }

// Bus fans each event out to every subscriber synchronously, in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
	now  func() time.Time
}

func NewBus() *Bus {
	return &Bus{now: time.Now}
}

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *Bus) Publish(ctx context.Context, e models.Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		s.Handle(ctx, e)
	}
}

// LogSubscriber writes every event to log.
func LogSubscriber(log logging.Logger) Subscriber {
	log = log.With("module", "events")
	return SubscriberFunc(func(ctx context.Context, e models.Event) {
		log.Info(ctx, "event", "type", string(e.Type), "user_id", e.UserID,
			"media_id", e.MediaID, "role", string(e.Role), "file_id", e.FileID, "reason", e.Reason)
	})
}
