package home

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/relay"
	bolt "go.etcd.io/bbolt"
)

// HomeService is the proxy deployed next to the arbitrable applications.
// It decides whether disputes may go ahead and applies the final rulings.
//
//nolint:revive
type HomeService struct {
	DB     *bolt.DB
	Outbox *relay.Outbox
	Logger *logrus.Logger
	Now    func() time.Time

	self     protocol.Endpoint
	database *internal.DatabaseService
	inbox    *relay.Inbox

	mu           sync.RWMutex
	applications map[common.Address]Arbitrable
}

func New(cfg Config, db *bolt.DB, bridge relay.Bridge, signer *relay.Signer, logger *logrus.Logger) *HomeService {
	s := &HomeService{
		DB:           db,
		Logger:       logger,
		Now:          time.Now,
		self:         cfg.Self,
		applications: map[common.Address]Arbitrable{},
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

	return s
}

func (s *HomeService) now() time.Time {
	return s.Now()
}

func (s *HomeService) Self() protocol.Endpoint {
	return s.self
}

func (s *HomeService) Inbox() *relay.Inbox {
	return s.inbox
}

func (s *HomeService) Shutdown() error {
	if s.database == nil {
		return nil
	}

	return s.database.Shutdown()
}

// RegisterApplication makes an arbitrable application known to the proxy.
// Its address is the caller identity it uses for registrations.
func (s *HomeService) RegisterApplication(application common.Address, arbitrable Arbitrable) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applications[application] = arbitrable

	s.Logger.WithField("application", application.Hex()).Info("application registered")
}

func (s *HomeService) application(application common.Address) (Arbitrable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arbitrable, ok := s.applications[application]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApplication, application.Hex())
	}

	return arbitrable, nil
}

func (s *HomeService) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
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

func (s *HomeService) SetCounterparty(peer protocol.Endpoint) error {
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

	s.Logger.WithField("counterparty", peer.String()).Info("home proxy linked")

	return nil
}

func (s *HomeService) Counterparty() (protocol.Endpoint, error) {
	var peer protocol.Endpoint

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		peer, err = loadCounterparty(tx)

		return err
	})

	return peer, err //nolint:wrapcheck
}

func (s *HomeService) Item(application common.Address, itemID uint64) (*Item, error) {
	var item *Item

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		item, err = loadItem(tx, application, itemID)

		return err
	})

	return item, err //nolint:wrapcheck
}

func (s *HomeService) transitioned(item *Item, from ItemStatus) {
	internal.ObserveTransition("home", string(item.Status))

	s.Logger.WithFields(logrus.Fields{
		"application": item.Application.Hex(),
		"item":        item.ItemID,
		"from":        from,
		"to":          item.Status,
	}).Info("item status changed")
}

func (s *HomeService) authenticate(tx *bolt.Tx, call relay.Call) error {
	peer, err := loadCounterparty(tx)
	if err != nil {
		return err
	}

	return call.Authenticate(peer) //nolint:wrapcheck
}

// Run flushes the outbox and nudges decided requests every interval until
// ctx is done. It is the automated relayer of a home node.
func (s *HomeService) Run(ctx context.Context, interval time.Duration) {
	go s.Outbox.Run(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			relayed, err := s.RelayPending(ctx)
			if err != nil {
				s.Logger.WithError(err).Warn("relayer nudge failed")
			}

			if relayed > 0 {
				s.Logger.WithField("relayed", relayed).Debug("relayer nudged decided requests")
			}
		}
	}
}
