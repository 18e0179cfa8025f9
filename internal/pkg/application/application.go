package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
)

var (
	ErrUnknownItem   = fmt.Errorf("%w: application: item", protocol.ErrNotFound)
	ErrItemExists    = fmt.Errorf("%w: application: item already listed", protocol.ErrWrongStatus)
	ErrNotDisputable = errors.New("application: item not open to disputes")
	ErrNotDisputed   = fmt.Errorf("%w: application: item has no dispute", protocol.ErrWrongStatus)
)

type ItemStatus string

const (
	ItemOpen     ItemStatus = "open"
	ItemClosed   ItemStatus = "closed"
	ItemDisputed ItemStatus = "disputed"
	ItemResolved ItemStatus = "resolved"
)

type Item struct {
	ID        uint64         `json:"id"`
	Status    ItemStatus     `json:"status"`
	Deadline  time.Time      `json:"deadline"`
	Plaintiff common.Address `json:"plaintiff"`
	Ruling    protocol.Party `json:"ruling"`
	Disputes  int            `json:"disputes"`
}

// Proxy is the home proxy the application registers with.
type Proxy interface {
	RegisterDisputeParams(ctx context.Context, caller common.Address, params registry.Params) error
	RegisterItemDisputeParams(ctx context.Context, caller common.Address, itemID uint64, params registry.Params) error
	SetDisputable(ctx context.Context, caller common.Address, itemID uint64, deadline time.Time) error
}

// Application lists items that can be challenged until a deadline. The
// outcome of a dispute is recorded on the item.
type Application struct {
	Logger *logrus.Logger
	Now    func() time.Time

	address common.Address
	proxy   Proxy

	mu    sync.Mutex
	items map[uint64]*Item
}

func New(address common.Address, proxy Proxy, logger *logrus.Logger) *Application {
	return &Application{
		Logger:  logger,
		Now:     time.Now,
		address: address,
		proxy:   proxy,
		items:   map[uint64]*Item{},
	}
}

func (a *Application) Address() common.Address {
	return a.address
}

func (a *Application) RegisterDisputeParams(ctx context.Context, params registry.Params) error {
	return a.proxy.RegisterDisputeParams(ctx, a.address, params) //nolint:wrapcheck
}

func (a *Application) RegisterItemDisputeParams(ctx context.Context, itemID uint64, params registry.Params) error {
	return a.proxy.RegisterItemDisputeParams(ctx, a.address, itemID, params) //nolint:wrapcheck
}

// List opens itemID to disputes until deadline and tells the proxy.
func (a *Application) List(ctx context.Context, itemID uint64, deadline time.Time) error {
	a.mu.Lock()

	item, ok := a.items[itemID]

	switch {
	case !ok:
		item = &Item{ID: itemID}
		a.items[itemID] = item
	case item.Status == ItemDisputed || item.Status == ItemResolved:
		a.mu.Unlock()

		return fmt.Errorf("%w: #%d is %s", ErrItemExists, itemID, item.Status)
	}

	previous := *item
	item.Status = ItemOpen
	item.Deadline = deadline

	a.mu.Unlock()

	err := a.proxy.SetDisputable(ctx, a.address, itemID, deadline)
	if err != nil {
		a.mu.Lock()
		if ok {
			*item = previous
		} else {
			delete(a.items, itemID)
		}
		a.mu.Unlock()

		return fmt.Errorf("failed to mark item disputable: %w", err)
	}

	a.Logger.WithFields(logrus.Fields{
		"item":     itemID,
		"deadline": deadline.UTC(),
	}).Info("item listed")

	return nil
}

// Close withdraws an open item; later dispute requests are vetoed.
func (a *Application) Close(itemID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.items[itemID]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownItem, itemID)
	}

	if item.Status != ItemOpen {
		return fmt.Errorf("%w: #%d is %s", protocol.ErrWrongStatus, itemID, item.Status)
	}

	item.Status = ItemClosed

	return nil
}

func (a *Application) Item(itemID uint64) (Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.items[itemID]
	if !ok {
		return Item{}, fmt.Errorf("%w: #%d", ErrUnknownItem, itemID)
	}

	return *item, nil
}

func (a *Application) NotifyDisputeRequest(_ context.Context, itemID uint64, plaintiff common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.items[itemID]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownItem, itemID)
	}

	if item.Status != ItemOpen {
		return fmt.Errorf("%w: #%d is %s", ErrNotDisputable, itemID, item.Status)
	}

	if a.Now().After(item.Deadline) {
		return fmt.Errorf("%w: #%d closed at %s", ErrNotDisputable, itemID, item.Deadline.UTC())
	}

	item.Status = ItemDisputed
	item.Plaintiff = plaintiff
	item.Disputes++

	a.Logger.WithFields(logrus.Fields{
		"item":      itemID,
		"plaintiff": plaintiff.Hex(),
	}).Info("dispute accepted")

	return nil
}

func (a *Application) CancelDispute(_ context.Context, itemID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.items[itemID]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownItem, itemID)
	}

	if item.Status != ItemDisputed {
		return fmt.Errorf("%w: #%d is %s", ErrNotDisputed, itemID, item.Status)
	}

	item.Status = ItemOpen
	item.Plaintiff = common.Address{}

	a.Logger.WithField("item", itemID).Info("dispute cancelled")

	return nil
}

func (a *Application) Rule(_ context.Context, itemID uint64, ruling protocol.Party) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, ok := a.items[itemID]
	if !ok {
		return fmt.Errorf("%w: #%d", ErrUnknownItem, itemID)
	}

	if item.Status != ItemDisputed {
		return fmt.Errorf("%w: #%d is %s", ErrNotDisputed, itemID, item.Status)
	}

	item.Status = ItemResolved
	item.Ruling = ruling

	a.Logger.WithFields(logrus.Fields{
		"item":   itemID,
		"ruling": ruling,
	}).Info("item resolved")

	return nil
}
