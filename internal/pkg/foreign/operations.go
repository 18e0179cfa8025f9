package foreign

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/ledger"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/relay"
	bolt "go.etcd.io/bbolt"
)

// RequestDispute escrows the plaintiff's arbitration fee and asks the home
// proxy whether the item may be disputed. Overpayment is refunded.
func (s *ForeignService) RequestDispute(ctx context.Context, application common.Address, itemID uint64, plaintiff common.Address, payment *big.Int) (common.Hash, error) {
	id := protocol.ArbitrationID(application, itemID)

	var (
		arbitration *Arbitration
		receipt     ledger.Receipt
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		peer, err := loadCounterparty(tx)
		if err != nil {
			return err
		}

		mark, _, err := loadDisputable(tx, id)
		if err != nil {
			return err
		}

		if !mark.open() {
			return fmt.Errorf("%w: %s #%d", ErrNotDisputable, application.Hex(), itemID)
		}

		deadline := time.Unix(mark.Deadline, 0)
		if s.Now().After(deadline) {
			return fmt.Errorf("%w: item closed for disputes at %s", protocol.ErrDeadlinePassed, deadline.UTC())
		}

		exists, err := arbitrationExists(tx, id)
		if err != nil {
			return err
		}

		if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyRequested, id.Hex())
		}

		params, err := resolveParams(tx, application, itemID)
		if err != nil {
			return err
		}

		cost, err := s.Arbitrator.ArbitrationCost(ctx, params.ExtraData)
		if err != nil {
			return fmt.Errorf("failed to quote arbitration cost: %w", err)
		}

		if protocol.OrZero(payment).Cmp(cost) < 0 {
			return fmt.Errorf("%w: arbitration costs %s, got %s", protocol.ErrInsufficientPayment, cost.String(), protocol.OrZero(payment).String())
		}

		round := ledger.NewRound()

		receipt, err = round.Contribute(protocol.Plaintiff, plaintiff, payment, cost)
		if err != nil {
			return fmt.Errorf("failed to record plaintiff fee: %w", err)
		}

		err = credit(tx, plaintiff, receipt.Remainder)
		if err != nil {
			return err
		}

		arbitration = &Arbitration{
			ID:          id,
			Application: application,
			ItemID:      itemID,
			Status:      StatusRequested,
			Plaintiff:   plaintiff,
			Params:      params,
			Cycle:       mark.Cycle,
			RequestedAt: s.Now(),
			Rounds:      []*ledger.Round{round},
		}

		err = saveArbitration(tx, arbitration)
		if err != nil {
			return err
		}

		_, err = s.Outbox.Enqueue(tx, relay.KindDisputeRequest, peer, relay.DisputeRequest{
			Application: application,
			ItemID:      itemID,
			Plaintiff:   plaintiff,
		})

		return err
	})
	if err != nil {
		return common.Hash{}, err
	}

	s.contributed(id, 0, receipt)
	s.transitioned(arbitration, StatusNone, StatusRequested)

	return id, nil
}

// ReceiveDisputeAccepted opens the defendant's funding window.
func (s *ForeignService) ReceiveDisputeAccepted(ctx context.Context, call relay.Call, application common.Address, itemID uint64) error {
	var arbitration *Arbitration

	err := s.update(ctx, func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		arbitration, err = loadArbitration(tx, protocol.ArbitrationID(application, itemID))
		if err != nil {
			return err
		}

		if arbitration.Status != StatusRequested {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		arbitration.Status = StatusDepositPending
		arbitration.AcceptedAt = s.Now()

		return saveArbitration(tx, arbitration)
	})
	if err != nil {
		return err
	}

	s.transitioned(arbitration, StatusRequested, StatusDepositPending)

	return nil
}

// ReceiveDisputeRejected refunds the plaintiff and resets the arbitration.
func (s *ForeignService) ReceiveDisputeRejected(ctx context.Context, call relay.Call, application common.Address, itemID uint64, reason string) error {
	var arbitration *Arbitration

	err := s.update(ctx, func(tx *bolt.Tx) error {
		err := s.authenticate(tx, call)
		if err != nil {
			return err
		}

		arbitration, err = loadArbitration(tx, protocol.ArbitrationID(application, itemID))
		if err != nil {
			return err
		}

		if arbitration.Status != StatusRequested {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		err = refundAll(tx, arbitration.Rounds[0])
		if err != nil {
			return err
		}

		return resetArbitration(tx, arbitration)
	})
	if err != nil {
		return err
	}

	s.Logger.WithFields(logrus.Fields{
		"arbitration": arbitration.ID.Hex(),
		"reason":      reason,
	}).Info("dispute request rejected")
	s.transitioned(arbitration, StatusRequested, StatusNone)

	return nil
}

// FundDefendant crowdfunds the defendant's side of the arbitration fee. The
// contribution that completes it creates the dispute; the returned status
// tells whether that happened and whether it succeeded.
func (s *ForeignService) FundDefendant(ctx context.Context, id common.Hash, contributor common.Address, payment *big.Int) (Status, error) {
	if protocol.OrZero(payment).Sign() <= 0 {
		return StatusNone, fmt.Errorf("%w: empty contribution", protocol.ErrInsufficientPayment)
	}

	var (
		arbitration *Arbitration
		receipt     ledger.Receipt
		outcome     Status
		createErr   error
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error

		arbitration, err = loadArbitration(tx, id)
		if err != nil {
			return err
		}

		if arbitration.Status != StatusDepositPending {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		parameters, err := loadParameters(tx)
		if err != nil {
			return err
		}

		if s.Now().After(arbitration.AcceptedAt.Add(parameters.FeeDepositTimeout)) {
			return fmt.Errorf("%w: defendant deposit window closed", protocol.ErrDeadlinePassed)
		}

		peer, err := loadCounterparty(tx)
		if err != nil {
			return err
		}

		cost, err := s.Arbitrator.ArbitrationCost(ctx, arbitration.Params.ExtraData)
		if err != nil {
			return fmt.Errorf("failed to quote arbitration cost: %w", err)
		}

		round := arbitration.Rounds[0]

		receipt, err = round.Contribute(protocol.Defendant, contributor, payment, cost)
		if err != nil {
			return fmt.Errorf("failed to record defendant fee: %w", err)
		}

		err = credit(tx, contributor, receipt.Remainder)
		if err != nil {
			return err
		}

		if !round.IsFullyPaid(protocol.Defendant) {
			outcome = StatusDepositPending

			return saveArbitration(tx, arbitration)
		}

		arbitration.Defendant = contributor

		disputeID, err := s.Arbitrator.CreateDispute(ctx, protocol.NumberOfChoices, arbitration.Params.ExtraData, cost)
		if err != nil {
			createErr = err
			outcome = StatusFailed

			err = refundAll(tx, round)
			if err != nil {
				return err
			}

			err = resetArbitration(tx, arbitration)
			if err != nil {
				return err
			}

			_, err = s.Outbox.Enqueue(tx, relay.KindDisputeFailed, peer, relay.DisputeFailed{
				Application: arbitration.Application,
				ItemID:      arbitration.ItemID,
			})

			return err
		}

		outcome = StatusOngoing

		round.Charge(cost)

		arbitration.Status = StatusOngoing
		arbitration.Arbitrator = s.Arbitrator.Address()
		arbitration.ArbitratorDisputeID = disputeID
		arbitration.Rounds = append(arbitration.Rounds, ledger.NewRound())

		err = indexDispute(tx, arbitration.Arbitrator, disputeID, id)
		if err != nil {
			return err
		}

		err = saveArbitration(tx, arbitration)
		if err != nil {
			return err
		}

		_, err = s.Outbox.Enqueue(tx, relay.KindDisputeCreated, peer, relay.DisputeCreated{
			Application: arbitration.Application,
			ItemID:      arbitration.ItemID,
			Arbitrator:  arbitration.Arbitrator,
			DisputeID:   disputeID,
		})

		return err
	})
	if err != nil {
		return StatusNone, err
	}

	s.contributed(id, 0, receipt)

	switch outcome {
	case StatusFailed:
		s.Logger.WithError(createErr).WithField("arbitration", id.Hex()).Warn("dispute creation failed, fees refunded")
		s.transitioned(arbitration, StatusDepositPending, StatusFailed)
	case StatusOngoing:
		s.Logger.WithFields(logrus.Fields{
			"arbitration":  id.Hex(),
			"arbitrator":   arbitration.Arbitrator.Hex(),
			"dispute_id":   arbitration.ArbitratorDisputeID,
			"metaevidence": arbitration.Params.MetaEvidence,
		}).Info("dispute created")
		s.transitioned(arbitration, StatusDepositPending, StatusOngoing)
	}

	return outcome, nil
}

// ClaimPlaintiffWin rules for the plaintiff once the defendant let the
// deposit window lapse.
func (s *ForeignService) ClaimPlaintiffWin(ctx context.Context, id common.Hash) error {
	var arbitration *Arbitration

	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error

		arbitration, err = loadArbitration(tx, id)
		if err != nil {
			return err
		}

		if arbitration.Status != StatusDepositPending {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		parameters, err := loadParameters(tx)
		if err != nil {
			return err
		}

		if !s.Now().After(arbitration.AcceptedAt.Add(parameters.FeeDepositTimeout)) {
			return fmt.Errorf("%w: defendant may still deposit", protocol.ErrDeadlineNotPassed)
		}

		arbitration.Status = StatusRuled
		arbitration.Ruling = protocol.Plaintiff

		return s.relayRuling(tx, arbitration)
	})
	if err != nil {
		return err
	}

	s.transitioned(arbitration, StatusDepositPending, StatusRuled)

	return nil
}

// FundAppeal crowdfunds one side of the current appeal round. When both
// sides are covered the appeal is lodged with the arbitrator and a new
// round opens.
func (s *ForeignService) FundAppeal(ctx context.Context, id common.Hash, party protocol.Party, contributor common.Address, payment *big.Int) (ledger.Receipt, error) {
	if !party.IsSide() {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", protocol.ErrUnknownParty, party)
	}

	if protocol.OrZero(payment).Sign() <= 0 {
		return ledger.Receipt{}, fmt.Errorf("%w: empty contribution", protocol.ErrInsufficientPayment)
	}

	var (
		receipt  ledger.Receipt
		round    int
		appealed bool
	)

	err := s.update(ctx, func(tx *bolt.Tx) error {
		arbitration, err := loadArbitration(tx, id)
		if err != nil {
			return err
		}

		if arbitration.Status != StatusOngoing {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		disputeID := arbitration.ArbitratorDisputeID

		start, end, err := s.Arbitrator.AppealPeriod(ctx, disputeID)
		if err != nil {
			return fmt.Errorf("failed to read appeal period: %w", err)
		}

		now := s.Now()
		if now.Before(start) || !now.Before(end) {
			return ErrAppealPeriodClosed
		}

		ruling, err := s.Arbitrator.CurrentRuling(ctx, disputeID)
		if err != nil {
			return fmt.Errorf("failed to read current ruling: %w", err)
		}

		parameters, err := loadParameters(tx)
		if err != nil {
			return err
		}

		multiplier, deadline := appealTerms(parameters.Multipliers, party, ruling, start, end)
		if !now.Before(deadline) {
			return ErrLoserWindowClosed
		}

		round = len(arbitration.Rounds) - 1
		current := arbitration.lastRound()

		if current.IsFullyPaid(party) {
			return fmt.Errorf("%w: %s", ErrAlreadyFunded, party)
		}

		appealCost, err := s.Arbitrator.AppealCost(ctx, disputeID, arbitration.Params.ExtraData)
		if err != nil {
			return fmt.Errorf("failed to quote appeal cost: %w", err)
		}

		receipt, err = current.Contribute(party, contributor, payment, protocol.WithMultiplier(appealCost, multiplier))
		if err != nil {
			return fmt.Errorf("failed to record appeal fee: %w", err)
		}

		err = credit(tx, contributor, receipt.Remainder)
		if err != nil {
			return err
		}

		if current.Funded() {
			err = s.Arbitrator.Appeal(ctx, disputeID, arbitration.Params.ExtraData, appealCost)
			if err != nil {
				return fmt.Errorf("arbitrator refused appeal: %w", err)
			}

			current.Charge(appealCost)
			arbitration.Rounds = append(arbitration.Rounds, ledger.NewRound())
			appealed = true
		}

		return saveArbitration(tx, arbitration)
	})
	if err != nil {
		return ledger.Receipt{}, err
	}

	s.contributed(id, round, receipt)

	if appealed {
		s.Logger.WithFields(logrus.Fields{
			"arbitration": id.Hex(),
			"round":       round + 1,
		}).Info("appeal lodged")
	}

	return receipt, nil
}

// appealTerms picks the stake multiplier for party and the time its window
// closes. The losing side only gets the first half of the period.
func appealTerms(multipliers Multipliers, party, ruling protocol.Party, start, end time.Time) (uint64, time.Time) {
	switch {
	case ruling == protocol.PartyNone:
		return multipliers.Shared, end
	case party == ruling:
		return multipliers.Winner, end
	default:
		return multipliers.Loser, start.Add(end.Sub(start) / 2)
	}
}

// Rule accepts the final ruling from the arbitrator that owns disputeID. A
// side that alone paid the last appeal round wins regardless of the ruling.
func (s *ForeignService) Rule(ctx context.Context, caller common.Address, disputeID uint64, ruling protocol.Party) error {
	if !ruling.Valid() {
		return fmt.Errorf("%w: %d", protocol.ErrInvalidRuling, ruling)
	}

	var arbitration *Arbitration

	err := s.update(ctx, func(tx *bolt.Tx) error {
		id, err := lookupDispute(tx, caller, disputeID)
		if err != nil {
			return err
		}

		arbitration, err = loadArbitration(tx, id)
		if err != nil {
			return err
		}

		if arbitration.Status != StatusOngoing {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		arbitration.Status = StatusRuled
		arbitration.Ruling = finalRuling(arbitration.lastRound(), ruling)

		return s.relayRuling(tx, arbitration)
	})
	if err != nil {
		return err
	}

	s.Logger.WithFields(logrus.Fields{
		"arbitration":   arbitration.ID.Hex(),
		"given_ruling":  ruling,
		"final_ruling":  arbitration.Ruling,
		"rounds":        len(arbitration.Rounds),
		"arbitrator_id": disputeID,
	}).Info("ruling received")
	s.transitioned(arbitration, StatusOngoing, StatusRuled)

	return nil
}

func finalRuling(last *ledger.Round, given protocol.Party) protocol.Party {
	defendant := last.IsFullyPaid(protocol.Defendant)
	plaintiff := last.IsFullyPaid(protocol.Plaintiff)

	switch {
	case defendant && !plaintiff:
		return protocol.Defendant
	case plaintiff && !defendant:
		return protocol.Plaintiff
	default:
		return given
	}
}

func (s *ForeignService) relayRuling(tx *bolt.Tx, arbitration *Arbitration) error {
	peer, err := loadCounterparty(tx)
	if err != nil {
		return err
	}

	err = saveArbitration(tx, arbitration)
	if err != nil {
		return err
	}

	_, err = s.Outbox.Enqueue(tx, relay.KindRuling, peer, relay.Ruling{
		Application: arbitration.Application,
		ItemID:      arbitration.ItemID,
		Ruling:      arbitration.Ruling,
	})

	return err //nolint:wrapcheck
}

// Withdraw pays beneficiary's share of one round into its balance.
func (s *ForeignService) Withdraw(ctx context.Context, id common.Hash, beneficiary common.Address, round int) (*big.Int, error) {
	return s.withdraw(ctx, id, beneficiary, func(arbitration *Arbitration) (*big.Int, error) {
		if round < 0 || round >= len(arbitration.Rounds) {
			return nil, fmt.Errorf("%w: %d of %d", ErrUnknownRound, round, len(arbitration.Rounds))
		}

		return arbitration.Rounds[round].RegisterWithdrawal(beneficiary, arbitration.Ruling), nil
	})
}

// BatchWithdraw withdraws count rounds starting at cursor; count 0 means
// every round from cursor on.
func (s *ForeignService) BatchWithdraw(ctx context.Context, id common.Hash, beneficiary common.Address, cursor, count int) (*big.Int, error) {
	return s.withdraw(ctx, id, beneficiary, func(arbitration *Arbitration) (*big.Int, error) {
		return ledger.RegisterWithdrawals(arbitration.Rounds, beneficiary, arbitration.Ruling, cursor, count), nil
	})
}

func (s *ForeignService) withdraw(ctx context.Context, id common.Hash, beneficiary common.Address, take func(*Arbitration) (*big.Int, error)) (*big.Int, error) {
	var amount *big.Int

	err := s.update(ctx, func(tx *bolt.Tx) error {
		arbitration, err := loadArbitration(tx, id)
		if err != nil {
			return err
		}

		if arbitration.Status != StatusRuled {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		amount, err = take(arbitration)
		if err != nil {
			return err
		}

		err = credit(tx, beneficiary, amount)
		if err != nil {
			return err
		}

		return saveArbitration(tx, arbitration)
	})
	if err != nil {
		return nil, err
	}

	internal.ObserveWithdrawal()
	s.Logger.WithFields(logrus.Fields{
		"arbitration": id.Hex(),
		"beneficiary": beneficiary.Hex(),
		"amount":      amount.String(),
	}).Info("withdrawal")

	return amount, nil
}

// Evidence is a pointer to material submitted for an arbitration.
type Evidence struct {
	Submitter   common.Address `json:"submitter"`
	URI         string         `json:"uri"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// SubmitEvidence records evidence while the dispute is before the
// arbitrator. The arbitration id is the evidence group.
func (s *ForeignService) SubmitEvidence(ctx context.Context, id common.Hash, submitter common.Address, uri string) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		arbitration, err := loadArbitration(tx, id)
		if err != nil {
			return err
		}

		if arbitration.Status != StatusOngoing {
			return fmt.Errorf("%w: arbitration is %s", protocol.ErrWrongStatus, arbitration.Status)
		}

		b := tx.Bucket([]byte(EvidenceBucket))
		if b == nil {
			return fmt.Errorf("%w: %s", internal.ErrBucketNotFound, EvidenceBucket)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate evidence key: %w", err)
		}

		key := append(id.Bytes(), internal.Uint64ToKey(seq)...)

		return internal.PutJSON(tx, EvidenceBucket, key, Evidence{
			Submitter:   submitter,
			URI:         uri,
			SubmittedAt: s.Now(),
		})
	})
	if err != nil {
		return err
	}

	s.Logger.WithFields(logrus.Fields{
		"evidence_group": id.Hex(),
		"submitter":      submitter.Hex(),
		"uri":            uri,
	}).Info("evidence submitted")

	return nil
}

func refundAll(tx *bolt.Tx, round *ledger.Round) error {
	for contributor, amount := range round.RefundAll() {
		err := credit(tx, contributor, amount)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *ForeignService) authenticate(tx *bolt.Tx, call relay.Call) error {
	peer, err := loadCounterparty(tx)
	if err != nil {
		return err
	}

	return call.Authenticate(peer) //nolint:wrapcheck
}
