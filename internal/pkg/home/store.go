package home

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
	bolt "go.etcd.io/bbolt"
)

const ItemsBucket = "home:items"

var Buckets = []string{
	internal.ConfigBucket,
	internal.RegistryBucket,
	internal.RelayOutboxBucket,
	internal.RelayInboxBucket,
	ItemsBucket,
}

var counterpartyKey = []byte("counterparty")

// loadItem returns a fresh None item when nothing was stored yet.
func loadItem(tx *bolt.Tx, application common.Address, itemID uint64) (*Item, error) {
	item := &Item{
		Application: application,
		ItemID:      itemID,
		Status:      StatusNone,
	}

	_, err := internal.GetJSON(tx, ItemsBucket, protocol.ArbitrationID(application, itemID).Bytes(), item)
	if err != nil {
		return nil, err
	}

	return item, nil
}

func saveItem(tx *bolt.Tx, item *Item) error {
	return internal.PutJSON(tx, ItemsBucket, protocol.ArbitrationID(item.Application, item.ItemID).Bytes(), item)
}

func loadRegistryEntry(tx *bolt.Tx, application common.Address) (*registry.Entry, error) {
	var entry registry.Entry

	_, err := internal.GetJSON(tx, internal.RegistryBucket, application.Bytes(), &entry)
	if err != nil {
		return nil, err
	}

	return &entry, nil
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

func wrongStatus(item *Item) error {
	return fmt.Errorf("%w: item is %s", protocol.ErrWrongStatus, item.Status)
}
