package arbitrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

var (
	ErrUnknownDispute = fmt.Errorf("%w: arbitrator: dispute", protocol.ErrNotFound)
	ErrTooManyJurors  = errors.New("arbitrator: juror count above the court maximum")
	ErrFeeTooLow      = fmt.Errorf("%w: arbitrator: fee below cost", protocol.ErrInsufficientPayment)
	ErrNotAppealable  = fmt.Errorf("%w: arbitrator: dispute not appealable", protocol.ErrWrongStatus)
	ErrNotRuled       = fmt.Errorf("%w: arbitrator: dispute awaiting a ruling", protocol.ErrWrongStatus)
	ErrNoRuler        = fmt.Errorf("%w: arbitrator: no arbitrable bound", protocol.ErrNotConfigured)
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusAppealable Status = "appealable"
	StatusSolved     Status = "solved"
)

type Dispute struct {
	ID          uint64         `json:"id"`
	Choices     uint64         `json:"choices"`
	Jurors      uint64         `json:"jurors"`
	Fees        *big.Int       `json:"fees"`
	Status      Status         `json:"status"`
	Ruling      protocol.Party `json:"ruling"`
	Appeals     int            `json:"appeals"`
	AppealStart time.Time      `json:"appeal_start"`
	AppealEnd   time.Time      `json:"appeal_end"`
}

type Config struct {
	Address      common.Address
	FeePerJuror  *big.Int
	AppealFee    *big.Int
	MaxJurors    uint64
	AppealPeriod time.Duration
}

// Ruler receives executed rulings. It is the arbitrable the disputes were
// created for.
type Ruler interface {
	Rule(ctx context.Context, caller common.Address, disputeID uint64, ruling protocol.Party) error
}

// Centralized is an appealable arbitrator run by a single operator. The
// juror count is read from extra data and scales every fee.
type Centralized struct {
	Logger *logrus.Logger
	Now    func() time.Time

	mu       sync.Mutex
	cfg      Config
	disputes []*Dispute
	ruler    Ruler
}

func NewCentralized(cfg Config, logger *logrus.Logger) *Centralized {
	if cfg.MaxJurors == 0 {
		cfg.MaxJurors = 1
	}

	return &Centralized{
		Logger: logger,
		Now:    time.Now,
		cfg:    cfg,
	}
}

// Bind sets the arbitrable that executed rulings are delivered to.
func (a *Centralized) Bind(ruler Ruler) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ruler = ruler
}

func (a *Centralized) Address() common.Address {
	return a.cfg.Address
}

// Jurors decodes the big-endian juror count from extra data. Empty or zero
// means a single juror.
func Jurors(extraData []byte) *big.Int {
	n := new(big.Int).SetBytes(extraData)
	if n.Sign() == 0 {
		n.SetUint64(1)
	}

	return n
}

// ExtraData encodes a juror count the way Jurors reads it.
func ExtraData(jurors uint64) []byte {
	return new(big.Int).SetUint64(jurors).Bytes()
}

func (a *Centralized) ArbitrationCost(_ context.Context, extraData []byte) (*big.Int, error) {
	return new(big.Int).Mul(protocol.OrZero(a.cfg.FeePerJuror), Jurors(extraData)), nil
}

func (a *Centralized) CreateDispute(ctx context.Context, choices uint64, extraData []byte, value *big.Int) (uint64, error) {
	jurors := Jurors(extraData)
	if !jurors.IsUint64() || jurors.Uint64() > a.cfg.MaxJurors {
		return 0, fmt.Errorf("%w: %s > %d", ErrTooManyJurors, jurors.String(), a.cfg.MaxJurors)
	}

	cost, err := a.ArbitrationCost(ctx, extraData)
	if err != nil {
		return 0, err
	}

	if protocol.OrZero(value).Cmp(cost) < 0 {
		return 0, fmt.Errorf("%w: %s < %s", ErrFeeTooLow, protocol.OrZero(value).String(), cost.String())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dispute := &Dispute{
		ID:      uint64(len(a.disputes)),
		Choices: choices,
		Jurors:  jurors.Uint64(),
		Fees:    protocol.Add(value),
		Status:  StatusWaiting,
	}
	a.disputes = append(a.disputes, dispute)

	a.Logger.WithFields(logrus.Fields{
		"dispute_id": dispute.ID,
		"jurors":     dispute.Jurors,
		"fees":       dispute.Fees.String(),
	}).Info("dispute created")

	return dispute.ID, nil
}

func (a *Centralized) AppealCost(_ context.Context, disputeID uint64, _ []byte) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		return nil, err
	}

	return new(big.Int).Mul(protocol.OrZero(a.cfg.AppealFee), new(big.Int).SetUint64(dispute.Jurors)), nil
}

func (a *Centralized) Appeal(ctx context.Context, disputeID uint64, extraData []byte, value *big.Int) error {
	cost, err := a.AppealCost(ctx, disputeID, extraData)
	if err != nil {
		return err
	}

	if protocol.OrZero(value).Cmp(cost) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrFeeTooLow, protocol.OrZero(value).String(), cost.String())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		return err
	}

	now := a.Now()
	if dispute.Status != StatusAppealable || !now.Before(dispute.AppealEnd) {
		return fmt.Errorf("%w: #%d is %s", ErrNotAppealable, disputeID, dispute.Status)
	}

	dispute.Status = StatusWaiting
	dispute.Appeals++
	dispute.Fees = protocol.Add(dispute.Fees, value)
	dispute.AppealStart = time.Time{}
	dispute.AppealEnd = time.Time{}

	a.Logger.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"appeals":    dispute.Appeals,
	}).Info("dispute appealed")

	return nil
}

func (a *Centralized) CurrentRuling(_ context.Context, disputeID uint64) (protocol.Party, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		return protocol.PartyNone, err
	}

	return dispute.Ruling, nil
}

// AppealPeriod is zero outside the appealable state.
func (a *Centralized) AppealPeriod(_ context.Context, disputeID uint64) (time.Time, time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	if dispute.Status != StatusAppealable {
		return time.Time{}, time.Time{}, nil
	}

	return dispute.AppealStart, dispute.AppealEnd, nil
}

// GiveRuling records a ruling and opens its appeal period.
func (a *Centralized) GiveRuling(_ context.Context, disputeID uint64, ruling protocol.Party) error {
	if !ruling.Valid() {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidRuling, ruling)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		return err
	}

	if dispute.Status != StatusWaiting {
		return fmt.Errorf("%w: #%d is %s", protocol.ErrWrongStatus, disputeID, dispute.Status)
	}

	now := a.Now()

	dispute.Ruling = ruling
	dispute.Status = StatusAppealable
	dispute.AppealStart = now
	dispute.AppealEnd = now.Add(a.cfg.AppealPeriod)

	a.Logger.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"ruling":     ruling,
		"appeal_end": dispute.AppealEnd,
	}).Info("ruling given")

	return nil
}

// ExecuteRuling makes the ruling final once the appeal period is over and
// hands it to the bound arbitrable. The lock is released before the
// callback so the arbitrable may query the arbitrator again.
func (a *Centralized) ExecuteRuling(ctx context.Context, disputeID uint64) error {
	a.mu.Lock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		a.mu.Unlock()

		return err
	}

	if dispute.Status != StatusAppealable {
		a.mu.Unlock()

		return fmt.Errorf("%w: #%d is %s", ErrNotRuled, disputeID, dispute.Status)
	}

	if a.Now().Before(dispute.AppealEnd) {
		a.mu.Unlock()

		return fmt.Errorf("%w: appeal period ends %s", protocol.ErrDeadlineNotPassed, dispute.AppealEnd)
	}

	if a.ruler == nil {
		a.mu.Unlock()

		return ErrNoRuler
	}

	ruler := a.ruler
	ruling := dispute.Ruling
	dispute.Status = StatusSolved

	a.mu.Unlock()

	err = ruler.Rule(ctx, a.cfg.Address, disputeID, ruling)
	if err != nil {
		a.mu.Lock()
		dispute.Status = StatusAppealable
		a.mu.Unlock()

		return fmt.Errorf("arbitrable refused ruling: %w", err)
	}

	a.Logger.WithFields(logrus.Fields{
		"dispute_id": disputeID,
		"ruling":     ruling,
	}).Info("ruling executed")

	return nil
}

func (a *Centralized) Dispute(disputeID uint64) (Dispute, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dispute, err := a.dispute(disputeID)
	if err != nil {
		return Dispute{}, err
	}

	out := *dispute
	out.Fees = new(big.Int).Set(dispute.Fees)

	return out, nil
}

func (a *Centralized) dispute(disputeID uint64) (*Dispute, error) {
	if disputeID >= uint64(len(a.disputes)) {
		return nil, fmt.Errorf("%w: #%d", ErrUnknownDispute, disputeID)
	}

	return a.disputes[disputeID], nil
}
