package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownParty = errors.New("unknown party")

// Party doubles as a ruling: PartyNone is the "no decision" outcome.
type Party uint8

const (
	PartyNone Party = iota
	Defendant
	Plaintiff
)

// NumberOfChoices is what disputes are created with; PartyNone is implicit.
const NumberOfChoices = 2

func (p Party) Valid() bool {
	return p <= Plaintiff
}

// IsSide reports whether p names one of the two sides of a round.
func (p Party) IsSide() bool {
	return p == Defendant || p == Plaintiff
}

// Index maps a side onto the two-slot arrays used by the ledger.
func (p Party) Index() int {
	return int(p) - 1
}

func (p Party) String() string {
	switch p {
	case PartyNone:
		return "none"
	case Defendant:
		return "defendant"
	case Plaintiff:
		return "plaintiff"
	default:
		return fmt.Sprintf("party(%d)", uint8(p))
	}
}

func ParseParty(s string) (Party, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return PartyNone, nil
	case "defendant", "1":
		return Defendant, nil
	case "plaintiff", "2":
		return Plaintiff, nil
	default:
		return PartyNone, fmt.Errorf("%w: %q", ErrUnknownParty, s)
	}
}

func (p Party) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParty, uint8(p))
	}

	return []byte(p.String()), nil
}

func (p *Party) UnmarshalText(text []byte) error {
	parsed, err := ParseParty(string(text))
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}
