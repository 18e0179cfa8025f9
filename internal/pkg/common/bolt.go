package common

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	ConfigBucket      = "config"
	RegistryBucket    = "registry"
	RelayOutboxBucket = "relay:outbox"
	RelayInboxBucket  = "relay:inbox"
)

var ErrBucketNotFound = errors.New("bucket doesn't exist")

type DatabaseService struct {
	DB *bolt.DB
}

// OpenDatabase opens (or creates) dataDir/name.db and makes sure every
// bucket exists.
func OpenDatabase(dataDir, name string, buckets []string) (*DatabaseService, error) {
	err := os.MkdirAll(dataDir, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create database path: %w", err)
	}

	dbPath := path.Join(dataDir, name+".db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}

	return &DatabaseService{
		DB: db,
	}, nil
}

func (s *DatabaseService) Shutdown() error {
	//nolint:wrapcheck
	return s.DB.Close()
}

func bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}

	return b, nil
}

// GetJSON decodes the value stored under key into v and reports whether it
// was there.
func GetJSON(tx *bolt.Tx, name string, key []byte, v any) (bool, error) {
	b, err := bucket(tx, name)
	if err != nil {
		return false, err
	}

	data := b.Get(key)
	if data == nil {
		return false, nil
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return false, fmt.Errorf("failed to decode %s/%x: %w", name, key, err)
	}

	return true, nil
}

func PutJSON(tx *bolt.Tx, name string, key []byte, v any) error {
	b, err := bucket(tx, name)
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%x: %w", name, key, err)
	}

	err = b.Put(key, data)
	if err != nil {
		return fmt.Errorf("failed to put %s/%x: %w", name, key, err)
	}

	return nil
}

func Delete(tx *bolt.Tx, name string, key []byte) error {
	b, err := bucket(tx, name)
	if err != nil {
		return err
	}

	//nolint:wrapcheck
	return b.Delete(key)
}

func Has(tx *bolt.Tx, name string, key []byte) (bool, error) {
	b, err := bucket(tx, name)
	if err != nil {
		return false, err
	}

	return b.Get(key) != nil, nil
}

// AddAmount credits amount to the big-endian integer stored under key and
// returns the new total.
func AddAmount(tx *bolt.Tx, name string, key []byte, amount *big.Int) (*big.Int, error) {
	b, err := bucket(tx, name)
	if err != nil {
		return nil, err
	}

	total := BytesToBig(b.Get(key))
	if amount != nil {
		total.Add(total, amount)
	}

	err = b.Put(key, total.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to put %s/%x: %w", name, key, err)
	}

	return total, nil
}

func GetAmount(tx *bolt.Tx, name string, key []byte) (*big.Int, error) {
	b, err := bucket(tx, name)
	if err != nil {
		return nil, err
	}

	return BytesToBig(b.Get(key)), nil
}

func BytesToBig(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// Uint64ToKey encodes big-endian so keys iterate in numeric order.
func Uint64ToKey(i uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, i)

	return buf
}

func KeyToUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(b)
}
