package events

import (
	"context"
	"sync"
	"time"

	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/services"
)

// Bus is the durable event bus. Publish persists through the event service
// and then wakes every waiter; consumers re-query the database rather than
// consuming an in-memory queue, so producers never block on slow consumers.
type Bus struct {
	svc *services.EventService

	mu sync.Mutex
	ch chan struct{}
}

// NewBus creates a bus over the given event service.
func NewBus(svc *services.EventService) *Bus {
	return &Bus{
		svc: svc,
		ch:  make(chan struct{}),
	}
}

// Publish appends one event and signals all waiters.
func (b *Bus) Publish(ctx context.Context, sessionID, turnID, stepID, eventType string, payload any) (*models.Event, error) {
	event, err := b.svc.InsertEvent(ctx, sessionID, turnID, stepID, eventType, time.Time{}, payload)
	if err != nil {
		return nil, err
	}
	b.broadcast()
	return event, nil
}

// broadcast closes the current generation channel so every waiter wakes.
func (b *Bus) broadcast() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

// WaitForNew blocks until a publish happens, the timeout elapses, or the
// context is done. Returns true only when signalled. A publish between two
// calls is never lost: the generation channel observed before waiting is the
// one publish closes.
func (b *Bus) WaitForNew(ctx context.Context, timeout time.Duration) bool {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// EventsSince is a store passthrough for the global SSE bus.
func (b *Bus) EventsSince(ctx context.Context, sessionID string, sinceID int64, limit int) ([]*models.Event, error) {
	return b.svc.EventsSince(ctx, sessionID, sinceID, limit)
}

// SessionEventsSince is a store passthrough for per-session replay.
func (b *Bus) SessionEventsSince(ctx context.Context, sessionID string, sinceID, sinceSeq int64, limit int) ([]*models.Event, error) {
	return b.svc.SessionEventsSince(ctx, sessionID, sinceID, sinceSeq, limit)
}

// LatestEventID is a store passthrough used by the SSE connected frame.
func (b *Bus) LatestEventID(ctx context.Context) (int64, error) {
	return b.svc.LatestEventID(ctx)
}
