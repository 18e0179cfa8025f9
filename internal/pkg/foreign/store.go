package foreign

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/ledger"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
	bolt "go.etcd.io/bbolt"
)

const (
	ArbitrationsBucket = "foreign:arbitrations"
	DisputesBucket     = "foreign:disputes"
	DisputableBucket   = "foreign:disputable"
	BalancesBucket     = "foreign:balances"
	EvidenceBucket     = "foreign:evidence"
)

var Buckets = []string{
	internal.ConfigBucket,
	internal.RegistryBucket,
	internal.RelayOutboxBucket,
	internal.RelayInboxBucket,
	ArbitrationsBucket,
	DisputesBucket,
	DisputableBucket,
	BalancesBucket,
	EvidenceBucket,
}

var (
	counterpartyKey = []byte("counterparty")
	parametersKey   = []byte("parameters")
)

func loadArbitration(tx *bolt.Tx, id common.Hash) (*Arbitration, error) {
	var arbitration Arbitration

	found, err := internal.GetJSON(tx, ArbitrationsBucket, id.Bytes(), &arbitration)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArbitration, id.Hex())
	}

	for i, round := range arbitration.Rounds {
		if round == nil {
			arbitration.Rounds[i] = ledger.NewRound()
		}
	}

	return &arbitration, nil
}

func arbitrationExists(tx *bolt.Tx, id common.Hash) (bool, error) {
	return internal.Has(tx, ArbitrationsBucket, id.Bytes())
}

func saveArbitration(tx *bolt.Tx, arbitration *Arbitration) error {
	return internal.PutJSON(tx, ArbitrationsBucket, arbitration.ID.Bytes(), arbitration)
}

// resetArbitration deletes the record so the identifier can start a new
// cycle. The disputable mark is closed only when it still belongs to the
// listing the request was made under; a newer listing stays open.
func resetArbitration(tx *bolt.Tx, arbitration *Arbitration) error {
	err := internal.Delete(tx, ArbitrationsBucket, arbitration.ID.Bytes())
	if err != nil {
		return fmt.Errorf("failed to delete arbitration: %w", err)
	}

	mark, found, err := loadDisputable(tx, arbitration.ID)
	if err != nil {
		return err
	}

	if !found || mark.Cycle != arbitration.Cycle {
		return nil
	}

	mark.Closed = true

	err = internal.PutJSON(tx, DisputableBucket, arbitration.ID.Bytes(), mark)
	if err != nil {
		return fmt.Errorf("failed to close disputable mark: %w", err)
	}

	return nil
}

func loadDisputable(tx *bolt.Tx, id common.Hash) (disputable, bool, error) {
	var mark disputable

	found, err := internal.GetJSON(tx, DisputableBucket, id.Bytes(), &mark)
	if err != nil {
		return disputable{}, false, err
	}

	return mark, found, nil
}

func indexDispute(tx *bolt.Tx, arbitrator common.Address, disputeID uint64, id common.Hash) error {
	key := protocol.DisputeKey(arbitrator, disputeID)

	b := tx.Bucket([]byte(DisputesBucket))
	if b == nil {
		return fmt.Errorf("%w: %s", internal.ErrBucketNotFound, DisputesBucket)
	}

	//nolint:wrapcheck
	return b.Put(key.Bytes(), id.Bytes())
}

func lookupDispute(tx *bolt.Tx, arbitrator common.Address, disputeID uint64) (common.Hash, error) {
	key := protocol.DisputeKey(arbitrator, disputeID)

	b := tx.Bucket([]byte(DisputesBucket))
	if b == nil {
		return common.Hash{}, fmt.Errorf("%w: %s", internal.ErrBucketNotFound, DisputesBucket)
	}

	value := b.Get(key.Bytes())
	if value == nil {
		return common.Hash{}, fmt.Errorf("%w: %s #%d", ErrUnknownDispute, arbitrator.Hex(), disputeID)
	}

	return common.BytesToHash(value), nil
}

func credit(tx *bolt.Tx, beneficiary common.Address, amount *big.Int) error {
	if protocol.IsZero(amount) {
		return nil
	}

	_, err := internal.AddAmount(tx, BalancesBucket, beneficiary.Bytes(), amount)

	return err
}

func loadRegistryEntry(tx *bolt.Tx, application common.Address) (*registry.Entry, error) {
	var entry registry.Entry

	_, err := internal.GetJSON(tx, internal.RegistryBucket, application.Bytes(), &entry)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func resolveParams(tx *bolt.Tx, application common.Address, itemID uint64) (registry.Params, error) {
	entry, err := loadRegistryEntry(tx, application)
	if err != nil {
		return registry.Params{}, err
	}

	params, err := entry.Resolve(itemID)
	if err != nil {
		return registry.Params{}, fmt.Errorf("%w: %w", ErrMissingParams, err)
	}

	return params, nil
}

func loadCounterparty(tx *bolt.Tx) (protocol.Endpoint, error) {
	var peer protocol.Endpoint

	found, err := internal.GetJSON(tx, internal.ConfigBucket, counterpartyKey, &peer)
	if err != nil {
		return protocol.Endpoint{}, err
	}

	if !found || peer.IsZero() {
		return protocol.Endpoint{}, protocol.ErrNotConfigured
	}

	return peer, nil
}

func loadParameters(tx *bolt.Tx) (Parameters, error) {
	var parameters Parameters

	_, err := internal.GetJSON(tx, internal.ConfigBucket, parametersKey, &parameters)

	return parameters, err
}
