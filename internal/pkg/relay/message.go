package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
)

type Kind string

const (
	KindParamsRegistered Kind = "params_registered"
	KindItemDisputable   Kind = "item_disputable"
	KindDisputeRequest   Kind = "dispute_request"
	KindDisputeAccepted  Kind = "dispute_accepted"
	KindDisputeRejected  Kind = "dispute_rejected"
	KindDisputeCreated   Kind = "dispute_created"
	KindDisputeFailed    Kind = "dispute_failed"
	KindRuling           Kind = "ruling"
)

// DefaultGasLimit is attached to outbound messages when none is configured.
const DefaultGasLimit = 1_500_000

// Envelope is a single bridge message. Source is filled by the sending proxy
// and covered by the signature, so receivers can trust it as the identity of
// the current message sender.
type Envelope struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Source    protocol.Endpoint `json:"source"`
	Target    protocol.Endpoint `json:"target"`
	GasLimit  uint64            `json:"gas_limit"`
	Payload   json.RawMessage   `json:"payload"`
	Timestamp int64             `json:"timestamp"`
	Signature string            `json:"signature,omitempty"`
}

func NewEnvelope(kind Kind, source, target protocol.Endpoint, gasLimit uint64, payload any, now time.Time) (Envelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to generate message id: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	return Envelope{
		ID:        id.String(),
		Kind:      kind,
		Source:    source,
		Target:    target,
		GasLimit:  gasLimit,
		Payload:   data,
		Timestamp: now.Unix(),
	}, nil
}

func (e Envelope) Decode(v any) error {
	err := json.Unmarshal(e.Payload, v)
	if err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Kind, err)
	}

	return nil
}

// Call is the identity of the message currently being executed.
type Call struct {
	Sender      common.Address
	SourceChain protocol.ChainID
}

func (e Envelope) Call() Call {
	return Call{
		Sender:      e.Source.Address,
		SourceChain: e.Source.Chain,
	}
}

// Authenticate checks the call came from the configured counter-party.
func (c Call) Authenticate(peer protocol.Endpoint) error {
	if peer.IsZero() {
		return protocol.ErrNotConfigured
	}

	if c.SourceChain != peer.Chain || c.Sender != peer.Address {
		return fmt.Errorf("%w: message from %d/%s", protocol.ErrUnauthorized, c.SourceChain, c.Sender.Hex())
	}

	return nil
}

type ParamsRegistered struct {
	Application common.Address  `json:"application"`
	Mode        registry.Mode   `json:"mode"`
	ItemID      uint64          `json:"item_id,omitempty"`
	Params      registry.Params `json:"params"`
}

// ItemDisputable carries a listing. Cycle counts the item's listings on the
// home chain.
type ItemDisputable struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
	Cycle       uint64         `json:"cycle"`
	Deadline    int64          `json:"deadline"`
}

type DisputeRequest struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
	Plaintiff   common.Address `json:"plaintiff"`
}

type DisputeAccepted struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
}

type DisputeRejected struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
	Reason      string         `json:"reason,omitempty"`
}

type DisputeCreated struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
	Arbitrator  common.Address `json:"arbitrator"`
	DisputeID   uint64         `json:"dispute_id"`
}

type DisputeFailed struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
}

type Ruling struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
	Ruling      protocol.Party `json:"ruling"`
}
