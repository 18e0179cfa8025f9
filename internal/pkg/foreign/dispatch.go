package foreign

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
	"github.com/vreid/crossarb/internal/pkg/relay"
	bolt "go.etcd.io/bbolt"
)

func (s *ForeignService) Dispatch(ctx context.Context, envelope relay.Envelope) error {
	call := envelope.Call()

	switch envelope.Kind {
	case relay.KindParamsRegistered:
		var payload relay.ParamsRegistered

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveParams(ctx, call, payload)
	case relay.KindItemDisputable:
		var payload relay.ItemDisputable

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveItemDisputable(ctx, call, payload.Application, payload.ItemID, payload.Cycle, time.Unix(payload.Deadline, 0))
	case relay.KindDisputeAccepted:
		var payload relay.DisputeAccepted

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveDisputeAccepted(ctx, call, payload.Application, payload.ItemID)
	case relay.KindDisputeRejected:
		var payload relay.DisputeRejected

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveDisputeRejected(ctx, call, payload.Application, payload.ItemID, payload.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, envelope.Kind)
	}
}

// ReceiveParams mirrors a registration made on the home chain.
func (s *ForeignService) ReceiveParams(_ context.Context, call relay.Call, payload relay.ParamsRegistered) error {
	err := s.DB.Update(func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		entry, err := loadRegistryEntry(tx, payload.Application)
		if err != nil {
			return err
		}

		err = entry.Mirror(payload.Mode, payload.ItemID, payload.Params)
		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrWrongStatus, err)
		}

		return internal.PutJSON(tx, internal.RegistryBucket, payload.Application.Bytes(), entry)
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	fields := logrus.Fields{
		"application":  payload.Application.Hex(),
		"mode":         payload.Mode,
		"metaevidence": payload.Params.MetaEvidence,
	}
	if payload.Mode == registry.ModeItem {
		fields["item"] = payload.ItemID
	}

	s.Logger.WithFields(fields).Info("dispute params registered")

	return nil
}

// ReceiveItemDisputable marks an item as open to dispute requests. Listings
// can arrive out of order; one older than the stored mark is ignored.
func (s *ForeignService) ReceiveItemDisputable(_ context.Context, call relay.Call, application common.Address, itemID, cycle uint64, deadline time.Time) error {
	id := protocol.ArbitrationID(application, itemID)

	var stale bool

	err := s.DB.Update(func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		mark, found, err := loadDisputable(tx, id)
		if err != nil {
			return err
		}

		if found && cycle <= mark.Cycle {
			stale = true

			return nil
		}

		return internal.PutJSON(tx, DisputableBucket, id.Bytes(), disputable{
			Cycle:    cycle,
			Deadline: deadline.Unix(),
		})
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	log := s.Logger.WithFields(logrus.Fields{
		"arbitration": id.Hex(),
		"application": application.Hex(),
		"item":        itemID,
		"cycle":       cycle,
		"deadline":    deadline.UTC(),
	})

	if stale {
		log.Debug("stale disputable mark ignored")

		return nil
	}

	log.Info("item disputable")

	return nil
}
