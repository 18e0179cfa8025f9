package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

var ErrNotASide = errors.New("ledger: contributions go to the defendant or the plaintiff")

// Round is one funding cycle: the original dispute or a single appeal.
type Round struct {
	PaidFees      [2]*big.Int                    `json:"paid_fees"`
	FullyPaid     [2]bool                        `json:"fully_paid"`
	FeeRewards    *big.Int                       `json:"fee_rewards"`
	Contributions map[common.Address][2]*big.Int `json:"contributions"`
}

// Receipt describes what a single Contribute call applied.
type Receipt struct {
	Contributor common.Address
	Party       protocol.Party
	Applied     *big.Int
	Remainder   *big.Int
	PaidFees    *big.Int
	Required    *big.Int
	// Completed is set only by the contribution that reached Required.
	Completed bool
}

func NewRound() *Round {
	return &Round{
		PaidFees:      [2]*big.Int{new(big.Int), new(big.Int)},
		FeeRewards:    new(big.Int),
		Contributions: map[common.Address][2]*big.Int{},
	}
}

// normalize fills the zero values a decoded round may be missing.
func (r *Round) normalize() {
	for i := range r.PaidFees {
		if r.PaidFees[i] == nil {
			r.PaidFees[i] = new(big.Int)
		}
	}

	if r.FeeRewards == nil {
		r.FeeRewards = new(big.Int)
	}

	if r.Contributions == nil {
		r.Contributions = map[common.Address][2]*big.Int{}
	}
}

// Contribute applies min(available, required - paid) towards party and
// returns the unused remainder, which the caller refunds.
func (r *Round) Contribute(party protocol.Party, contributor common.Address, available, required *big.Int) (Receipt, error) {
	if !party.IsSide() {
		return Receipt{}, fmt.Errorf("%w: got %s", ErrNotASide, party)
	}

	r.normalize()

	i := party.Index()
	owed := protocol.CappedSub(required, r.PaidFees[i])
	applied := protocol.Min(available, owed)

	entry := r.contributionOf(contributor)
	entry[i] = protocol.Add(entry[i], applied)
	r.Contributions[contributor] = entry

	r.PaidFees[i] = protocol.Add(r.PaidFees[i], applied)
	r.FeeRewards = protocol.Add(r.FeeRewards, applied)

	completed := false
	if !r.FullyPaid[i] && r.PaidFees[i].Cmp(protocol.OrZero(required)) >= 0 {
		r.FullyPaid[i] = true
		completed = true
	}

	return Receipt{
		Contributor: contributor,
		Party:       party,
		Applied:     applied,
		Remainder:   protocol.CappedSub(available, applied),
		PaidFees:    protocol.OrZero(r.PaidFees[i]),
		Required:    protocol.OrZero(required),
		Completed:   completed,
	}, nil
}

// Funded reports whether both sides reached their requirement.
func (r *Round) Funded() bool {
	return r.FullyPaid[0] && r.FullyPaid[1]
}

func (r *Round) IsFullyPaid(party protocol.Party) bool {
	if !party.IsSide() {
		return false
	}

	return r.FullyPaid[party.Index()]
}

func (r *Round) Paid(party protocol.Party) *big.Int {
	if !party.IsSide() {
		return new(big.Int)
	}

	return protocol.OrZero(r.PaidFees[party.Index()])
}

// Charge takes the fees forwarded to the arbitrator out of the reward pool.
func (r *Round) Charge(cost *big.Int) {
	r.normalize()
	r.FeeRewards = protocol.CappedSub(r.FeeRewards, cost)
}

func (r *Round) Contribution(contributor common.Address, party protocol.Party) *big.Int {
	if !party.IsSide() {
		return new(big.Int)
	}

	return protocol.OrZero(r.Contributions[contributor][party.Index()])
}

// Withdrawable is what beneficiary may take out of this round once the
// arbitration reached finalRuling.
func (r *Round) Withdrawable(beneficiary common.Address, finalRuling protocol.Party) *big.Int {
	r.normalize()

	entry := r.contributionOf(beneficiary)

	switch {
	case !r.Funded():
		return protocol.Add(entry[0], entry[1])
	case finalRuling == protocol.PartyNone:
		totalPaid := protocol.Add(r.PaidFees[0], r.PaidFees[1])

		return protocol.MulDiv(protocol.Add(entry[0], entry[1]), r.FeeRewards, totalPaid)
	case finalRuling.IsSide():
		w := finalRuling.Index()

		return protocol.MulDiv(entry[w], r.FeeRewards, r.PaidFees[w])
	default:
		return new(big.Int)
	}
}

// RegisterWithdrawal computes the withdrawable amount and zeroes the
// beneficiary's entries, so a second call yields zero.
func (r *Round) RegisterWithdrawal(beneficiary common.Address, finalRuling protocol.Party) *big.Int {
	amount := r.Withdrawable(beneficiary, finalRuling)

	delete(r.Contributions, beneficiary)

	return amount
}

// Contributors lists everyone with an entry in this round, in address order.
func (r *Round) Contributors() []common.Address {
	out := make([]common.Address, 0, len(r.Contributions))
	for addr := range r.Contributions {
		out = append(out, addr)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].Cmp(out[b]) < 0
	})

	return out
}

// RefundAll returns every contributor's stake on both sides and empties the
// round. Used when the funded dispute could not be created.
func (r *Round) RefundAll() map[common.Address]*big.Int {
	refunds := make(map[common.Address]*big.Int, len(r.Contributions))

	for _, addr := range r.Contributors() {
		entry := r.contributionOf(addr)

		total := protocol.Add(entry[0], entry[1])
		if total.Sign() > 0 {
			refunds[addr] = total
		}

		delete(r.Contributions, addr)
	}

	return refunds
}

func (r *Round) contributionOf(contributor common.Address) [2]*big.Int {
	entry := r.Contributions[contributor]
	for i := range entry {
		if entry[i] == nil {
			entry[i] = new(big.Int)
		}
	}

	return entry
}
