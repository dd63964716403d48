package feed

import (
	"context"
	"io"
	"log"
	"sync"
)

// Subscription is a live listing. Updates yields a snapshot on subscribe and
// after every change to the watched topic; when the consumer falls behind
// only the latest snapshot is kept.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Watch starts a listing of query over topic. The subscription ends when ctx
// is cancelled or Close is called.
func Watch[T any](ctx context.Context, broker *Broker, topic string, query func(ctx context.Context) (T, error), logger *log.Logger) *Subscription[T] {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	signal, unsubscribe := broker.Subscribe(topic)

	go func() {
		defer close(s.done)
		defer close(s.updates)
		defer unsubscribe()

		emit := func() {
			snapshot, err := query(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Printf("feed: watch query topic=%s error=%v", topic, err)
				}
				return
			}
			s.offer(snapshot)
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
				emit()
			}
		}
	}()
	return s
}

// offer replaces any unread snapshot with v. Only the worker goroutine sends.
func (s *Subscription[T]) offer(v T) {
	select {
	case s.updates <- v:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}

// Updates is closed once the subscription has ended.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Close stops the subscription and waits for its worker to exit.
func (s *Subscription[T]) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the worker has exited.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}
