package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

// span resolves [cursor, cursor+count) against n rounds; count 0 means all
// rounds from cursor on.
func span(n, cursor, count int) (int, int) {
	if cursor < 0 {
		cursor = 0
	}

	if cursor > n {
		cursor = n
	}

	end := n
	if count > 0 && cursor+count < n {
		end = cursor + count
	}

	return cursor, end
}

// Withdrawable sums Round.Withdrawable over a range of rounds. The cost grows
// with the number of rounds, which is fine for clients reading it.
func Withdrawable(rounds []*Round, beneficiary common.Address, finalRuling protocol.Party, cursor, count int) *big.Int {
	start, end := span(len(rounds), cursor, count)

	total := new(big.Int)
	for _, round := range rounds[start:end] {
		total.Add(total, round.Withdrawable(beneficiary, finalRuling))
	}

	return total
}

// RegisterWithdrawals registers the beneficiary's withdrawal on every round
// in the range and returns the total to pay out.
func RegisterWithdrawals(rounds []*Round, beneficiary common.Address, finalRuling protocol.Party, cursor, count int) *big.Int {
	start, end := span(len(rounds), cursor, count)

	total := new(big.Int)
	for _, round := range rounds[start:end] {
		total.Add(total, round.RegisterWithdrawal(beneficiary, finalRuling))
	}

	return total
}
