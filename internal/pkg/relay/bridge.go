package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("relay: bridge has no receiver")

// Bridge carries sealed envelopes to the other chain. Delivery is
// at-most-once per envelope id on the receiving side and unordered across
// envelopes.
type Bridge interface {
	Send(ctx context.Context, envelope Envelope) error
}

// Receiver accepts envelopes arriving from the bridge.
type Receiver interface {
	Deliver(ctx context.Context, envelope Envelope) error
}

// Queue holds sent envelopes until the caller delivers them, which lets
// tests delay, reorder, duplicate and drop messages.
type Queue struct {
	mu       sync.Mutex
	pending  []Envelope
	receiver Receiver
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Connect(receiver Receiver) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.receiver = receiver
}

func (q *Queue) Send(_ context.Context, envelope Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, envelope)

	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

func (q *Queue) Pending() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Envelope, len(q.pending))
	copy(out, q.pending)

	return out
}

// Drop discards every pending envelope, as a bridge outage would.
func (q *Queue) Drop() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.pending
	q.pending = nil

	return dropped
}

func (q *Queue) pop() (Envelope, Receiver, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Envelope{}, q.receiver, false
	}

	envelope := q.pending[0]
	q.pending = q.pending[1:]

	return envelope, q.receiver, true
}

// DeliverNext hands the oldest pending envelope to the receiver.
func (q *Queue) DeliverNext(ctx context.Context) (bool, error) {
	envelope, receiver, ok := q.pop()
	if !ok {
		return false, nil
	}

	if receiver == nil {
		return true, ErrNotConnected
	}

	return true, receiver.Deliver(ctx, envelope)
}

// DeliverAll drains the queue, including envelopes sent while draining.
func (q *Queue) DeliverAll(ctx context.Context) error {
	var errs []error

	for {
		delivered, err := q.DeliverNext(ctx)
		if !delivered {
			break
		}

		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Channel delivers envelopes asynchronously from a background goroutine.
type Channel struct {
	envelopes chan Envelope
	logger    *logrus.Logger
}

func NewChannel(size int, logger *logrus.Logger) *Channel {
	return &Channel{
		envelopes: make(chan Envelope, size),
		logger:    logger,
	}
}

func (c *Channel) Send(ctx context.Context, envelope Envelope) error {
	select {
	case c.envelopes <- envelope:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to enqueue %s: %w", envelope.Kind, ctx.Err())
	}
}

func (c *Channel) Start(ctx context.Context, receiver Receiver) {
	go c.process(ctx, receiver)
}

func (c *Channel) process(ctx context.Context, receiver Receiver) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-c.envelopes:
			err := receiver.Deliver(ctx, envelope)
			if err != nil {
				c.logger.WithError(err).
					WithField("id", envelope.ID).
					WithField("kind", envelope.Kind).
					Warn("relay delivery rejected")
			}
		}
	}
}
