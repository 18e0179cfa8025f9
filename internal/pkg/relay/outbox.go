package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	bolt "go.etcd.io/bbolt"
)

// Outbox stores outbound envelopes in the same transaction as the state
// change that produced them; Flush hands them to the bridge afterwards.
type Outbox struct {
	DB       *bolt.DB
	Bridge   Bridge
	Signer   *Signer
	Self     protocol.Endpoint
	GasLimit uint64
	Logger   *logrus.Logger
	Now      func() time.Time

	flushMu sync.Mutex
}

func (o *Outbox) Enqueue(tx *bolt.Tx, kind Kind, target protocol.Endpoint, payload any) (Envelope, error) {
	envelope, err := NewEnvelope(kind, o.Self, target, o.GasLimit, payload, o.Now())
	if err != nil {
		return Envelope{}, err
	}

	err = o.Signer.Seal(&envelope)
	if err != nil {
		return Envelope{}, err
	}

	b := tx.Bucket([]byte(common.RelayOutboxBucket))
	if b == nil {
		return Envelope{}, fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.RelayOutboxBucket)
	}

	seq, err := b.NextSequence()
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to allocate outbox sequence: %w", err)
	}

	err = common.PutJSON(tx, common.RelayOutboxBucket, common.Uint64ToKey(seq), envelope)
	if err != nil {
		return Envelope{}, err
	}

	return envelope, nil
}

type outboxEntry struct {
	key      []byte
	envelope Envelope
}

func (o *Outbox) pending() ([]outboxEntry, error) {
	var entries []outboxEntry

	err := o.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(common.RelayOutboxBucket))
		if b == nil {
			return fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.RelayOutboxBucket)
		}

		return b.ForEach(func(k, v []byte) error {
			var envelope Envelope

			err := json.Unmarshal(v, &envelope)
			if err != nil {
				return fmt.Errorf("failed to decode outbox entry %d: %w", common.KeyToUint64(k), err)
			}

			entries = append(entries, outboxEntry{
				key:      append([]byte(nil), k...),
				envelope: envelope,
			})

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}

	return entries, nil
}

// Pending returns the envelopes not yet accepted by the bridge.
func (o *Outbox) Pending() ([]Envelope, error) {
	entries, err := o.pending()
	if err != nil {
		return nil, err
	}

	out := make([]Envelope, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.envelope)
	}

	return out, nil
}

// Flush sends pending envelopes in order. An envelope the bridge refuses
// stays stored for the next attempt and does not hold back the ones queued
// after it.
func (o *Outbox) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	entries, err := o.pending()
	if err != nil {
		return err
	}

	var (
		sent [][]byte
		errs []error
	)

	for _, entry := range entries {
		err = o.Bridge.Send(ctx, entry.envelope)
		if err != nil {
			common.ObserveRelay("out", string(entry.envelope.Kind), "failed")
			errs = append(errs, fmt.Errorf("failed to send %s %s: %w", entry.envelope.Kind, entry.envelope.ID, err))

			continue
		}

		common.ObserveRelay("out", string(entry.envelope.Kind), "sent")
		o.Logger.WithFields(logrus.Fields{
			"id":     entry.envelope.ID,
			"kind":   entry.envelope.Kind,
			"target": entry.envelope.Target.String(),
		}).Debug("relay message sent")

		sent = append(sent, entry.key)
	}

	if len(sent) > 0 {
		err = o.DB.Update(func(tx *bolt.Tx) error {
			for _, key := range sent {
				err := common.Delete(tx, common.RelayOutboxBucket, key)
				if err != nil {
					return fmt.Errorf("failed to delete outbox entry: %w", err)
				}
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	return errors.Join(errs...)
}

// Run retries Flush until ctx is done, for bridges that can be unavailable.
func (o *Outbox) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := o.Flush(ctx)
			if err != nil {
				o.Logger.WithError(err).Warn("relay outbox flush failed")
			}
		}
	}
}
