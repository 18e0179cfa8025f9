package home

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

var (
	ErrUnknownApplication = fmt.Errorf("%w: home: application not registered", protocol.ErrUnauthorized)
	ErrUnknownItem        = fmt.Errorf("%w: home: item", protocol.ErrNotFound)
	ErrRequestPending     = fmt.Errorf("%w: home: a dispute request is already pending", protocol.ErrWrongStatus)
	ErrUnknownKind        = fmt.Errorf("%w: home: unexpected relay message", protocol.ErrUnauthorized)
	ErrCallbackPending    = fmt.Errorf("%w: home: application has not taken the last outcome", protocol.ErrWrongStatus)
)

type ItemStatus string

const (
	StatusNone       ItemStatus = "none"
	StatusRegistered ItemStatus = "registered"
	StatusPossible   ItemStatus = "possible"
	StatusAccepted   ItemStatus = "accepted"
	StatusRejected   ItemStatus = "rejected"
	StatusOngoing    ItemStatus = "ongoing"
	StatusRuled      ItemStatus = "ruled"
)

// Item is the home-side view of one (application, item) pair.
//
// CancelPending and RulingPending record an outcome the application refused
// when it arrived; RelayPending hands it over again.
type Item struct {
	Application         common.Address `json:"application"`
	ItemID              uint64         `json:"item_id"`
	Status              ItemStatus     `json:"status"`
	Cycle               uint64         `json:"cycle"`
	Deadline            time.Time      `json:"deadline"`
	Plaintiff           common.Address `json:"plaintiff"`
	RejectReason        string         `json:"reject_reason,omitempty"`
	AcceptRelayed       bool           `json:"accept_relayed"`
	Arbitrator          common.Address `json:"arbitrator"`
	ArbitratorDisputeID uint64         `json:"arbitrator_dispute_id"`
	Ruling              protocol.Party `json:"ruling"`
	CancelPending       bool           `json:"cancel_pending,omitempty"`
	RulingPending       bool           `json:"ruling_pending,omitempty"`
}

func (i *Item) callbackPending() bool {
	return i.CancelPending || i.RulingPending
}

// Arbitrable is the application whose items can be disputed. Its methods
// run inside the proxy's transaction and must not call back into it.
type Arbitrable interface {
	// NotifyDisputeRequest may veto the request by returning an error.
	NotifyDisputeRequest(ctx context.Context, itemID uint64, plaintiff common.Address) error
	CancelDispute(ctx context.Context, itemID uint64) error
	Rule(ctx context.Context, itemID uint64, ruling protocol.Party) error
}

type Config struct {
	Self     protocol.Endpoint
	GasLimit uint64
}
