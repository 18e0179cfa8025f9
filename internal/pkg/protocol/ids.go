package protocol

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type ChainID uint64

func (c ChainID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}

// Endpoint identifies a proxy: the chain it lives on and its address there.
type Endpoint struct {
	Chain   ChainID        `json:"chain"`
	Address common.Address `json:"address"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d/%s", e.Chain, e.Address.Hex())
}

func (e Endpoint) IsZero() bool {
	return e.Chain == 0 && e.Address == (common.Address{})
}

func word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), common.HashLength)
}

// ArbitrationID is keccak256(application ++ uint256(itemID)).
func ArbitrationID(application common.Address, itemID uint64) common.Hash {
	return crypto.Keccak256Hash(application.Bytes(), word(itemID))
}

// DisputeKey is keccak256(arbitrator ++ uint256(disputeID)).
func DisputeKey(arbitrator common.Address, disputeID uint64) common.Hash {
	return crypto.Keccak256Hash(arbitrator.Bytes(), word(disputeID))
}
