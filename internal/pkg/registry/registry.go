package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrModeConflict    = errors.New("registry: application and item level params are mutually exclusive")
	ErrNotIncreasing   = errors.New("registry: item ids must be strictly increasing")
	ErrUnchanged       = errors.New("registry: params identical to the previous registration")
	ErrNotRegistered   = errors.New("registry: no params registered")
	ErrBelowFirstEntry = errors.New("registry: item id below the first registered id")
)

type Mode uint8

const (
	ModeUnset Mode = iota
	ModeApplication
	ModeItem
)

func (m Mode) String() string {
	switch m {
	case ModeUnset:
		return "unset"
	case ModeApplication:
		return "application"
	case ModeItem:
		return "item"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Params is what a dispute is created with.
type Params struct {
	MetaEvidence string `json:"meta_evidence"`
	ExtraData    []byte `json:"extra_data"`
}

func (p Params) Equal(other Params) bool {
	return p.MetaEvidence == other.MetaEvidence && bytes.Equal(p.ExtraData, other.ExtraData)
}

// Entry holds one application's params. Once a mode is chosen it stays for
// the lifetime of the application.
type Entry struct {
	Mode        Mode     `json:"mode"`
	Application *Params  `json:"application,omitempty"`
	ItemIDs     []uint64 `json:"item_ids,omitempty"`
	Items       []Params `json:"items,omitempty"`
}

func (e *Entry) RegisterApplication(params Params) error {
	if e.Mode == ModeItem {
		return ErrModeConflict
	}

	e.Mode = ModeApplication
	e.Application = &params

	return nil
}

func (e *Entry) RegisterItem(itemID uint64, params Params) error {
	if e.Mode == ModeApplication {
		return ErrModeConflict
	}

	if last := len(e.ItemIDs) - 1; last >= 0 {
		if itemID <= e.ItemIDs[last] {
			return fmt.Errorf("%w: %d after %d", ErrNotIncreasing, itemID, e.ItemIDs[last])
		}

		if params.Equal(e.Items[last]) {
			return ErrUnchanged
		}
	}

	e.Mode = ModeItem
	e.ItemIDs = append(e.ItemIDs, itemID)
	e.Items = append(e.Items, params)

	return nil
}

// Mirror applies a registration already validated by the registering side.
// Registrations may arrive in any order, so item entries are inserted at
// their sorted position and a repeated id overwrites the earlier entry.
func (e *Entry) Mirror(mode Mode, itemID uint64, params Params) error {
	switch mode {
	case ModeApplication:
		return e.RegisterApplication(params)
	case ModeItem:
		if e.Mode == ModeApplication {
			return ErrModeConflict
		}
	default:
		return fmt.Errorf("%w: mode %s", ErrNotRegistered, mode)
	}

	e.Mode = ModeItem

	idx := sort.Search(len(e.ItemIDs), func(i int) bool {
		return e.ItemIDs[i] >= itemID
	})

	if idx < len(e.ItemIDs) && e.ItemIDs[idx] == itemID {
		e.Items[idx] = params

		return nil
	}

	e.ItemIDs = append(e.ItemIDs, 0)
	copy(e.ItemIDs[idx+1:], e.ItemIDs[idx:])
	e.ItemIDs[idx] = itemID

	e.Items = append(e.Items, Params{})
	copy(e.Items[idx+1:], e.Items[idx:])
	e.Items[idx] = params

	return nil
}

// Resolve returns the params governing itemID.
func (e *Entry) Resolve(itemID uint64) (Params, error) {
	switch e.Mode {
	case ModeApplication:
		if e.Application == nil {
			return Params{}, ErrNotRegistered
		}

		return *e.Application, nil
	case ModeItem:
		idx, err := Floor(e.ItemIDs, itemID)
		if err != nil {
			return Params{}, err
		}

		return e.Items[idx], nil
	default:
		return Params{}, ErrNotRegistered
	}
}

// Floor returns the index of the greatest element of the strictly increasing
// ids that is <= v.
func Floor(ids []uint64, v uint64) (int, error) {
	if len(ids) == 0 {
		return 0, ErrNotRegistered
	}

	if v < ids[0] {
		return 0, fmt.Errorf("%w: %d < %d", ErrBelowFirstEntry, v, ids[0])
	}

	last := len(ids) - 1
	if v >= ids[last] {
		return last, nil
	}

	// first index whose id exceeds v, minus one
	return sort.Search(len(ids), func(i int) bool {
		return ids[i] > v
	}) - 1, nil
}
