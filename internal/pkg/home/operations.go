package home

import (
	"context"
	"encoding/json"
	"errors"
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

// RegisterDisputeParams sets the params every item of the calling
// application is disputed with.
func (s *HomeService) RegisterDisputeParams(ctx context.Context, caller common.Address, params registry.Params) error {
	return s.registerParams(ctx, caller, registry.ModeApplication, 0, params)
}

// RegisterItemDisputeParams sets the params for itemID and every later item
// until the next registration.
func (s *HomeService) RegisterItemDisputeParams(ctx context.Context, caller common.Address, itemID uint64, params registry.Params) error {
	return s.registerParams(ctx, caller, registry.ModeItem, itemID, params)
}

func (s *HomeService) registerParams(ctx context.Context, caller common.Address, mode registry.Mode, itemID uint64, params registry.Params) error {
	_, err := s.application(caller)
	if err != nil {
		return err
	}

	err = s.update(ctx, func(tx *bolt.Tx) error {
		peer, err := loadCounterparty(tx)
		if err != nil {
			return err
		}

		entry, err := loadRegistryEntry(tx, caller)
		if err != nil {
			return err
		}

		if mode == registry.ModeApplication {
			err = entry.RegisterApplication(params)
		} else {
			err = entry.RegisterItem(itemID, params)
		}

		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrWrongStatus, err)
		}

		err = internal.PutJSON(tx, internal.RegistryBucket, caller.Bytes(), entry)
		if err != nil {
			return err
		}

		_, err = s.Outbox.Enqueue(tx, relay.KindParamsRegistered, peer, relay.ParamsRegistered{
			Application: caller,
			Mode:        mode,
			ItemID:      itemID,
			Params:      params,
		})

		return err
	})
	if err != nil {
		return err
	}

	s.Logger.WithFields(logrus.Fields{
		"application":  caller.Hex(),
		"mode":         mode,
		"item":         itemID,
		"metaevidence": params.MetaEvidence,
	}).Info("dispute params registered")

	return nil
}

// SetDisputable opens itemID to dispute requests until deadline.
func (s *HomeService) SetDisputable(ctx context.Context, caller common.Address, itemID uint64, deadline time.Time) error {
	_, err := s.application(caller)
	if err != nil {
		return err
	}

	if !deadline.After(s.Now()) {
		return fmt.Errorf("%w: deadline %s", protocol.ErrDeadlinePassed, deadline.UTC())
	}

	var (
		item *Item
		from ItemStatus
	)

	err = s.update(ctx, func(tx *bolt.Tx) error {
		peer, err := loadCounterparty(tx)
		if err != nil {
			return err
		}

		entry, err := loadRegistryEntry(tx, caller)
		if err != nil {
			return err
		}

		_, err = entry.Resolve(itemID)
		if err != nil {
			return fmt.Errorf("%w: %w", protocol.ErrNotFound, err)
		}

		item, err = loadItem(tx, caller, itemID)
		if err != nil {
			return err
		}

		switch item.Status {
		case StatusNone, StatusRegistered, StatusPossible:
		default:
			return wrongStatus(item)
		}

		if item.CancelPending {
			return fmt.Errorf("%w: %s #%d", ErrCallbackPending, caller.Hex(), itemID)
		}

		from = item.Status
		item.Status = StatusPossible
		item.Cycle++
		item.Deadline = deadline

		err = saveItem(tx, item)
		if err != nil {
			return err
		}

		_, err = s.Outbox.Enqueue(tx, relay.KindItemDisputable, peer, relay.ItemDisputable{
			Application: caller,
			ItemID:      itemID,
			Cycle:       item.Cycle,
			Deadline:    deadline.Unix(),
		})

		return err
	})
	if err != nil {
		return err
	}

	s.transitioned(item, from)

	return nil
}

// ReceiveDisputeRequest lets the application decide on a plaintiff's
// request. A veto is not an error: the item moves to Rejected and the
// outcome waits to be relayed.
func (s *HomeService) ReceiveDisputeRequest(ctx context.Context, call relay.Call, application common.Address, itemID uint64, plaintiff common.Address) error {
	var (
		item *Item
		from ItemStatus
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		item, err = loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		from = item.Status

		switch item.Status {
		case StatusAccepted, StatusRejected, StatusOngoing:
			return fmt.Errorf("%w: item is %s", ErrRequestPending, item.Status)
		case StatusRuled:
			return wrongStatus(item)
		}

		item.Plaintiff = plaintiff

		veto := s.decide(ctx, item)
		if veto != nil {
			item.Status = StatusRejected
			item.RejectReason = veto.Error()
		} else {
			item.Status = StatusAccepted
			item.RejectReason = ""
			item.AcceptRelayed = false
		}

		return saveItem(tx, item)
	})
	if err != nil {
		return err
	}

	s.transitioned(item, from)

	return nil
}

func (s *HomeService) decide(ctx context.Context, item *Item) error {
	if item.Status != StatusPossible {
		return errors.New("item not disputable")
	}

	if s.Now().After(item.Deadline) {
		return errors.New("dispute deadline passed")
	}

	arbitrable, err := s.application(item.Application)
	if err != nil {
		return err
	}

	return arbitrable.NotifyDisputeRequest(ctx, item.ItemID, item.Plaintiff)
}

// RelayDisputeAccepted pushes an acceptance to the foreign proxy. Anyone may
// call it and it may be repeated.
func (s *HomeService) RelayDisputeAccepted(ctx context.Context, application common.Address, itemID uint64) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		peer, err := loadCounterparty(tx)
		if err != nil {
			return err
		}

		item, err := loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		if item.Status != StatusAccepted {
			return wrongStatus(item)
		}

		item.AcceptRelayed = true

		err = saveItem(tx, item)
		if err != nil {
			return err
		}

		_, err = s.Outbox.Enqueue(tx, relay.KindDisputeAccepted, peer, relay.DisputeAccepted{
			Application: application,
			ItemID:      itemID,
		})

		return err
	})
	if err != nil {
		return err
	}

	s.Logger.WithFields(logrus.Fields{
		"application": application.Hex(),
		"item":        itemID,
	}).Info("dispute acceptance relayed")

	return nil
}

// RelayDisputeRejected pushes a rejection to the foreign proxy and returns
// the item to Registered.
func (s *HomeService) RelayDisputeRejected(ctx context.Context, application common.Address, itemID uint64) error {
	var item *Item

	err := s.update(ctx, func(tx *bolt.Tx) error {
		peer, err := loadCounterparty(tx)
		if err != nil {
			return err
		}

		item, err = loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		if item.Status != StatusRejected {
			return wrongStatus(item)
		}

		_, err = s.Outbox.Enqueue(tx, relay.KindDisputeRejected, peer, relay.DisputeRejected{
			Application: application,
			ItemID:      itemID,
			Reason:      item.RejectReason,
		})
		if err != nil {
			return err
		}

		item.Status = StatusRegistered
		item.Plaintiff = common.Address{}

		return saveItem(tx, item)
	})
	if err != nil {
		return err
	}

	s.transitioned(item, StatusRejected)

	return nil
}

func (s *HomeService) ReceiveDisputeCreated(ctx context.Context, call relay.Call, application common.Address, itemID uint64, arbitrator common.Address, disputeID uint64) error {
	var item *Item

	err := s.update(ctx, func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		item, err = loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		if item.Status != StatusAccepted {
			return wrongStatus(item)
		}

		item.Status = StatusOngoing
		item.Arbitrator = arbitrator
		item.ArbitratorDisputeID = disputeID

		return saveItem(tx, item)
	})
	if err != nil {
		return err
	}

	s.transitioned(item, StatusAccepted)

	return nil
}

// ReceiveDisputeFailed returns the item to Registered and cancels the
// dispute in the application. A refusal is kept on the item for RelayPending
// to retry.
func (s *HomeService) ReceiveDisputeFailed(ctx context.Context, call relay.Call, application common.Address, itemID uint64) error {
	var (
		item    *Item
		refusal error
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		item, err = loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		if item.Status != StatusAccepted {
			return wrongStatus(item)
		}

		arbitrable, err := s.application(application)
		if err != nil {
			return err
		}

		refusal = arbitrable.CancelDispute(ctx, itemID)

		item.Status = StatusRegistered
		item.Plaintiff = common.Address{}
		item.AcceptRelayed = false
		item.CancelPending = refusal != nil

		return saveItem(tx, item)
	})
	if err != nil {
		return err
	}

	if refusal != nil {
		s.refused(item, "cancellation", refusal)
	}

	s.transitioned(item, StatusAccepted)

	return nil
}

// ReceiveRuling applies the final ruling. A ruling can arrive before the
// dispute-created notice, so Accepted items take it too. The item is Ruled
// even when the application refuses the ruling; RelayPending retries it.
func (s *HomeService) ReceiveRuling(ctx context.Context, call relay.Call, application common.Address, itemID uint64, ruling protocol.Party) error {
	if !ruling.Valid() {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidRuling, ruling)
	}

	var (
		item    *Item
		from    ItemStatus
		refusal error
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		item, err = loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		if item.Status != StatusAccepted && item.Status != StatusOngoing {
			return wrongStatus(item)
		}

		arbitrable, err := s.application(application)
		if err != nil {
			return err
		}

		refusal = arbitrable.Rule(ctx, itemID, ruling)

		from = item.Status
		item.Status = StatusRuled
		item.Ruling = ruling
		item.RulingPending = refusal != nil

		return saveItem(tx, item)
	})
	if err != nil {
		return err
	}

	if refusal != nil {
		s.refused(item, "ruling", refusal)
	}

	s.Logger.WithFields(logrus.Fields{
		"application": application.Hex(),
		"item":        itemID,
		"ruling":      ruling,
	}).Info("ruling applied")
	s.transitioned(item, from)

	return nil
}

// RelayPending nudges every decided request whose outcome has not been
// relayed yet and hands the application the outcomes it refused before. It
// is what an automated relayer runs.
func (s *HomeService) RelayPending(ctx context.Context) (int, error) {
	var pending []Item

	err := s.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ItemsBucket))
		if b == nil {
			return fmt.Errorf("%w: %s", internal.ErrBucketNotFound, ItemsBucket)
		}

		return b.ForEach(func(_, v []byte) error {
			var item Item

			err := json.Unmarshal(v, &item)
			if err != nil {
				return fmt.Errorf("failed to decode item: %w", err)
			}

			if item.Status == StatusRejected || (item.Status == StatusAccepted && !item.AcceptRelayed) || item.callbackPending() {
				pending = append(pending, item)
			}

			return nil
		})
	})
	if err != nil {
		return 0, err //nolint:wrapcheck
	}

	var errs []error

	for _, item := range pending {
		switch {
		case item.callbackPending():
			err = s.retryCallback(ctx, item.Application, item.ItemID)
		case item.Status == StatusRejected:
			err = s.RelayDisputeRejected(ctx, item.Application, item.ItemID)
		default:
			err = s.RelayDisputeAccepted(ctx, item.Application, item.ItemID)
		}

		if err != nil {
			errs = append(errs, err)
		}
	}

	return len(pending) - len(errs), errors.Join(errs...)
}

// retryCallback hands the application the cancellation or ruling it refused
// earlier.
func (s *HomeService) retryCallback(ctx context.Context, application common.Address, itemID uint64) error {
	var (
		item     *Item
		callback string
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error

		item, err = loadItem(tx, application, itemID)
		if err != nil {
			return err
		}

		arbitrable, err := s.application(application)
		if err != nil {
			return err
		}

		switch {
		case item.CancelPending:
			callback = "cancellation"
			err = arbitrable.CancelDispute(ctx, itemID)
		case item.RulingPending:
			callback = "ruling"
			err = arbitrable.Rule(ctx, itemID, item.Ruling)
		default:
			return nil
		}

		if err != nil {
			return fmt.Errorf("application refused %s: %w", callback, err)
		}

		item.CancelPending = false
		item.RulingPending = false

		return saveItem(tx, item)
	})
	if err != nil {
		return err
	}

	if callback != "" {
		s.Logger.WithFields(logrus.Fields{
			"application": application.Hex(),
			"item":        itemID,
			"callback":    callback,
		}).Info("application took pending outcome")
	}

	return nil
}

func (s *HomeService) refused(item *Item, callback string, err error) {
	s.Logger.WithError(err).WithFields(logrus.Fields{
		"application": item.Application.Hex(),
		"item":        item.ItemID,
		"callback":    callback,
	}).Warn("application refused outcome, relayer will retry")
}
