package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	bolt "go.etcd.io/bbolt"
)

var ErrMisrouted = fmt.Errorf("%w: relay envelope addressed to another proxy", protocol.ErrUnauthorized)

// Dispatcher executes an authenticated envelope against a proxy.
type Dispatcher interface {
	Dispatch(ctx context.Context, envelope Envelope) error
}

// Inbox verifies, deduplicates and dispatches inbound envelopes. An id is
// recorded only once its dispatch succeeded, so a message rejected by a
// precondition may be delivered again later. Deliveries are serialized so
// the same envelope arriving twice at once is dispatched once.
type Inbox struct {
	DB         *bolt.DB
	Signer     *Signer
	Self       protocol.Endpoint
	Dispatcher Dispatcher
	Logger     *logrus.Logger

	mu sync.Mutex
}

func (in *Inbox) Deliver(ctx context.Context, envelope Envelope) error {
	kind := string(envelope.Kind)

	err := in.Signer.Verify(envelope)
	if err != nil {
		common.ObserveRelay("in", kind, "unauthenticated")

		return err
	}

	if envelope.Target != in.Self {
		common.ObserveRelay("in", kind, "misrouted")

		return fmt.Errorf("%w: %s", ErrMisrouted, envelope.Target.String())
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	var seen bool

	err = in.DB.View(func(tx *bolt.Tx) error {
		var err error

		seen, err = common.Has(tx, common.RelayInboxBucket, []byte(envelope.ID))

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to check relay inbox: %w", err)
	}

	log := in.Logger.WithFields(logrus.Fields{
		"id":     envelope.ID,
		"kind":   envelope.Kind,
		"source": envelope.Source.String(),
	})

	if seen {
		common.ObserveRelay("in", kind, "duplicate")
		log.Debug("relay message already executed")

		return nil
	}

	err = in.Dispatcher.Dispatch(ctx, envelope)
	if err != nil {
		common.ObserveRelay("in", kind, "rejected")
		log.WithError(err).Info("relay message rejected")

		return err
	}

	err = in.DB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(common.RelayInboxBucket))
		if b == nil {
			return fmt.Errorf("%w: %s", common.ErrBucketNotFound, common.RelayInboxBucket)
		}

		//nolint:wrapcheck
		return b.Put([]byte(envelope.ID), []byte(strconv.FormatInt(envelope.Timestamp, 10)))
	})
	if err != nil {
		return fmt.Errorf("failed to record relay message: %w", err)
	}

	common.ObserveRelay("in", kind, "executed")
	log.Debug("relay message executed")

	return nil
}
