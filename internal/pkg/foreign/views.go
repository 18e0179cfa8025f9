package foreign

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/ledger"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	bolt "go.etcd.io/bbolt"
)

func (s *ForeignService) Arbitration(id common.Hash) (*Arbitration, error) {
	var arbitration *Arbitration

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		arbitration, err = loadArbitration(tx, id)

		return err
	})

	return arbitration, err //nolint:wrapcheck
}

// ArbitrationIDByDispute maps an arbitrator's dispute back to the item.
func (s *ForeignService) ArbitrationIDByDispute(arbitrator common.Address, disputeID uint64) (common.Hash, error) {
	var id common.Hash

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		id, err = lookupDispute(tx, arbitrator, disputeID)

		return err
	})

	return id, err //nolint:wrapcheck
}

// ArbitrationCost quotes what the plaintiff has to pay to request a dispute.
func (s *ForeignService) ArbitrationCost(ctx context.Context, application common.Address, itemID uint64) (*big.Int, error) {
	var extraData []byte

	err := s.DB.View(func(tx *bolt.Tx) error {
		params, err := resolveParams(tx, application, itemID)
		extraData = params.ExtraData

		return err
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	return s.Arbitrator.ArbitrationCost(ctx, extraData) //nolint:wrapcheck
}

// AppealFee reports the stake party must cover in the current round and
// when its window closes.
func (s *ForeignService) AppealFee(ctx context.Context, id common.Hash, party protocol.Party) (AppealFee, error) {
	if !party.IsSide() {
		return AppealFee{}, fmt.Errorf("%w: %s", protocol.ErrUnknownParty, party)
	}

	var (
		arbitration *Arbitration
		parameters  Parameters
	)

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		arbitration, err = loadArbitration(tx, id)
		if err != nil {
			return err
		}

		parameters, err = loadParameters(tx)

		return err
	})
	if err != nil {
		return AppealFee{}, err //nolint:wrapcheck
	}

	if arbitration.Status != StatusOngoing {
		return AppealFee{}, fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
	}

	disputeID := arbitration.ArbitratorDisputeID

	start, end, err := s.Arbitrator.AppealPeriod(ctx, disputeID)
	if err != nil {
		return AppealFee{}, fmt.Errorf("failed to read appeal period: %w", err)
	}

	ruling, err := s.Arbitrator.CurrentRuling(ctx, disputeID)
	if err != nil {
		return AppealFee{}, fmt.Errorf("failed to read current ruling: %w", err)
	}

	appealCost, err := s.Arbitrator.AppealCost(ctx, disputeID, arbitration.Params.ExtraData)
	if err != nil {
		return AppealFee{}, fmt.Errorf("failed to quote appeal cost: %w", err)
	}

	multiplier, deadline := appealTerms(parameters.Multipliers, party, ruling, start, end)
	round := arbitration.lastRound()

	return AppealFee{
		Party:      party,
		AppealCost: appealCost,
		Multiplier: multiplier,
		Required:   protocol.WithMultiplier(appealCost, multiplier),
		Paid:       round.Paid(party),
		FullyPaid:  round.IsFullyPaid(party),
		Deadline:   deadline,
	}, nil
}

// TotalWithdrawable sums what beneficiary could withdraw over all rounds.
// It is zero until the arbitration is ruled.
func (s *ForeignService) TotalWithdrawable(id common.Hash, beneficiary common.Address) (*big.Int, error) {
	arbitration, err := s.Arbitration(id)
	if err != nil {
		return nil, err
	}

	if arbitration.Status != StatusRuled {
		return new(big.Int), nil
	}

	return ledger.Withdrawable(arbitration.Rounds, beneficiary, arbitration.Ruling, 0, 0), nil
}

// Balance is what the proxy owes addr: refunds and withdrawals.
func (s *ForeignService) Balance(addr common.Address) (*big.Int, error) {
	var balance *big.Int

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		balance, err = internal.GetAmount(tx, BalancesBucket, addr.Bytes())

		return err
	})

	return balance, err //nolint:wrapcheck
}

// Disputable returns the deadline relayed for an item, if any.
// Disputable reports the deadline of the item's open listing.
func (s *ForeignService) Disputable(application common.Address, itemID uint64) (time.Time, bool, error) {
	var mark disputable

	err := s.DB.View(func(tx *bolt.Tx) error {
		var err error

		mark, _, err = loadDisputable(tx, protocol.ArbitrationID(application, itemID))

		return err
	})
	if err != nil || !mark.open() {
		return time.Time{}, false, err //nolint:wrapcheck
	}

	return time.Unix(mark.Deadline, 0), true, nil
}

func (s *ForeignService) Evidence(id common.Hash) ([]Evidence, error) {
	var out []Evidence

	err := s.DB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(EvidenceBucket))
		if b == nil {
			return fmt.Errorf("%w: %s", internal.ErrBucketNotFound, EvidenceBucket)
		}

		prefix := id.Bytes()
		c := b.Cursor()

		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var evidence Evidence

			_, err := internal.GetJSON(tx, EvidenceBucket, k, &evidence)
			if err != nil {
				return err
			}

			out = append(out, evidence)
		}

		return nil
	})

	return out, err //nolint:wrapcheck
}
