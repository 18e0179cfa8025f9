package foreign

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/ledger"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/relay"
	bolt "go.etcd.io/bbolt"
)

// ForeignService is the proxy deployed next to the arbitrator. It holds the
// escrow, funds disputes and appeals and relays rulings back home.
//
//nolint:revive
type ForeignService struct {
	DB         *bolt.DB
	Arbitrator Arbitrator
	Outbox     *relay.Outbox
	Logger     *logrus.Logger
	Now        func() time.Time

	self     protocol.Endpoint
	governor common.Address
	database *internal.DatabaseService
	inbox    *relay.Inbox
}

func New(cfg Config, db *bolt.DB, arbitrator Arbitrator, bridge relay.Bridge, signer *relay.Signer, logger *logrus.Logger) (*ForeignService, error) {
	s := &ForeignService{
		DB:         db,
		Arbitrator: arbitrator,
		Logger:     logger,
		Now:        time.Now,
		self:       cfg.Self,
		governor:   cfg.Governor,
	}

	s.Outbox = &relay.Outbox{
		DB:       db,
		Bridge:   bridge,
		Signer:   signer,
		Self:     cfg.Self,
		GasLimit: cfg.GasLimit,
		Logger:   logger,
		Now:      s.now,
	}

	s.inbox = &relay.Inbox{
		DB:         db,
		Signer:     signer,
		Self:       cfg.Self,
		Dispatcher: s,
		Logger:     logger,
	}

	err := db.Update(func(tx *bolt.Tx) error {
		found, err := internal.Has(tx, internal.ConfigBucket, parametersKey)
		if err != nil || found {
			return err
		}

		return internal.PutJSON(tx, internal.ConfigBucket, parametersKey, cfg.Parameters)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize foreign parameters: %w", err)
	}

	return s, nil
}

func (s *ForeignService) now() time.Time {
	return s.Now()
}

func (s *ForeignService) Self() protocol.Endpoint {
	return s.self
}

// Inbox returns the receiver the bridge delivers home messages to.
func (s *ForeignService) Inbox() *relay.Inbox {
	return s.inbox
}

// update runs fn in a single write transaction and hands the envelopes it
// produced to the bridge once the transaction committed.
func (s *ForeignService) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	err := s.DB.Update(fn)
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = s.Outbox.Flush(ctx)
	if err != nil {
		s.Logger.WithError(err).Warn("relay flush failed, messages stay queued")
	}

	return nil
}

// SetCounterparty links the proxy to its home peer. It can be done once.
func (s *ForeignService) SetCounterparty(peer protocol.Endpoint) error {
	if peer.IsZero() {
		return fmt.Errorf("%w: empty counterparty", protocol.ErrNotConfigured)
	}

	err := s.DB.Update(func(tx *bolt.Tx) error {
		_, err := loadCounterparty(tx)
		if err == nil {
			return protocol.ErrAlreadyConfigured
		}

		return internal.PutJSON(tx, internal.ConfigBucket, counterpartyKey, peer)
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	s.Logger.WithField("counterparty", peer.String()).Info("foreign proxy linked")

	return nil
}

func (s *ForeignService) Counterparty() (protocol.Endpoint, error) {
	var peer protocol.Endpoint

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		peer, err = loadCounterparty(tx)

		return err
	})

	return peer, err //nolint:wrapcheck
}

func (s *ForeignService) Parameters() (Parameters, error) {
	var parameters Parameters

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		parameters, err = loadParameters(tx)

		return err
	})

	return parameters, err //nolint:wrapcheck
}

func (s *ForeignService) ChangeMultipliers(caller common.Address, multipliers Multipliers) error {
	return s.changeParameters(caller, func(p *Parameters) {
		p.Multipliers = multipliers
	})
}

func (s *ForeignService) ChangeFeeDepositTimeout(caller common.Address, timeout time.Duration) error {
	return s.changeParameters(caller, func(p *Parameters) {
		p.FeeDepositTimeout = timeout
	})
}

func (s *ForeignService) changeParameters(caller common.Address, change func(p *Parameters)) error {
	if caller != s.governor {
		return ErrNotGovernor
	}

	var parameters Parameters

	err := s.DB.Update(func(tx *bolt.Tx) error {
		var err error

		parameters, err = loadParameters(tx)
		if err != nil {
			return err
		}

		change(&parameters)

		return internal.PutJSON(tx, internal.ConfigBucket, parametersKey, parameters)
	})
	if err != nil {
		return err //nolint:wrapcheck
	}

	s.Logger.WithFields(logrus.Fields{
		"fee_deposit_timeout": parameters.FeeDepositTimeout,
		"shared_multiplier":   parameters.Multipliers.Shared,
		"winner_multiplier":   parameters.Multipliers.Winner,
		"loser_multiplier":    parameters.Multipliers.Loser,
	}).Info("foreign parameters changed")

	return nil
}

func (s *ForeignService) transitioned(arbitration *Arbitration, from, to Status) {
	internal.ObserveTransition("foreign", string(to))

	s.Logger.WithFields(logrus.Fields{
		"arbitration": arbitration.ID.Hex(),
		"application": arbitration.Application.Hex(),
		"item":        arbitration.ItemID,
		"from":        from,
		"to":          to,
	}).Info("arbitration status changed")
}

func (s *ForeignService) contributed(id common.Hash, round int, receipt ledger.Receipt) {
	internal.ObserveContribution(receipt.Party.String(), receipt.Completed)

	s.Logger.WithFields(logrus.Fields{
		"arbitration": id.Hex(),
		"round":       round,
		"party":       receipt.Party,
		"contributor": receipt.Contributor.Hex(),
		"amount":      receipt.Applied.String(),
		"refunded":    receipt.Remainder.String(),
		"fully_paid":  receipt.Completed,
	}).Info("contribution")
}
