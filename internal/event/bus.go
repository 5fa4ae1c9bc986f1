package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"usermanagement/internal/metrics"
)

var (
	ErrBusSealed       = errors.New("event bus is sealed")
	ErrNilHandler      = errors.New("event handler is nil")
	ErrInvalidEvent    = errors.New("invalid event")
	ErrUnexpectedEvent = errors.New("unexpected event type")
)

// Handler runs to completion before the next subscriber of the same kind is
// invoked. A non-nil error stops the chain and is returned to the publisher.
type Handler func(ctx context.Context, evt Event) error

// Bus is an in-process, kind-keyed dispatcher. It is built during startup
// wiring and sealed before serving traffic; after Seal the registry is
// read-only.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	sealed   bool
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(kind Kind, handler Handler) error {
	if b == nil {
		return errors.New("event bus is nil")
	}
	if handler == nil {
		return ErrNilHandler
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return fmt.Errorf("subscribe %s: %w", kind, ErrBusSealed)
	}
	b.handlers[kind] = append(b.handlers[kind], handler)
	return nil
}

// Seal ends the wiring phase. Further Subscribe calls fail.
func (b *Bus) Seal() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

func (b *Bus) Sealed() bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sealed
}

func (b *Bus) SubscriberCount(kind Kind) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Publish invokes every subscriber of evt's kind in registration order,
// sequentially. Publishing with no subscribers is a no-op.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if b == nil {
		return errors.New("event bus is nil")
	}
	if err := validate(evt); err != nil {
		return err
	}

	kind := evt.Kind()
	b.mu.RLock()
	handlers := b.handlers[kind]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	startedAt := time.Now()
	defer func() {
		metrics.ObserveEventPublish(string(kind), time.Since(startedAt))
	}()

	meta := evt.Meta()
	for idx, handler := range handlers {
		if err := handler(ctx, evt); err != nil {
			b.logger.Error("event handler failed",
				zap.String("kind", string(kind)),
				zap.String("event_id", meta.ID.String()),
				zap.Int64("user_id", evt.Subject()),
				zap.Int("handler", idx),
				zap.Int("handlers", len(handlers)),
				zap.Error(err),
			)
			return fmt.Errorf("publish %s: handler %d: %w", kind, idx, err)
		}
	}

	b.logger.Debug("event published",
		zap.String("kind", string(kind)),
		zap.String("event_id", meta.ID.String()),
		zap.Int64("user_id", evt.Subject()),
		zap.Int("handlers", len(handlers)),
	)
	return nil
}

// On subscribes a handler typed to one concrete event variant. The kind is
// taken from the variant itself.
func On[E Event](b *Bus, fn func(ctx context.Context, evt E) error) error {
	if fn == nil {
		return ErrNilHandler
	}
	var zero E
	kind := zero.Kind()
	return b.Subscribe(kind, func(ctx context.Context, evt Event) error {
		typed, ok := evt.(E)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrUnexpectedEvent, evt, kind)
		}
		return fn(ctx, typed)
	})
}

func validate(evt Event) error {
	if evt == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if !evt.Kind().Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, evt.Kind())
	}
	if evt.Subject() <= 0 {
		return fmt.Errorf("%w: %s without a persisted user id", ErrInvalidEvent, evt.Kind())
	}
	return nil
}
