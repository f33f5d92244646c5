package domain

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fd1az/upstream-gateway/internal/apperror"
)

// Block is the canonical head record for one upstream.
type Block struct {
	Number          uint64
	Hash            common.Hash
	ParentHash      common.Hash
	Timestamp       time.Time
	Difficulty      *big.Int
	TotalDifficulty *big.Int
	GasLimit        uint64
	GasUsed         uint64
	BaseFee         *big.Int
	Transactions    []common.Hash
}

// HeavierThan reports whether b has strictly more total difficulty than other.
// Any block is heavier than no block.
func (b *Block) HeavierThan(other *Block) bool {
	if other == nil {
		return true
	}
	return weight(b).Cmp(weight(other)) > 0
}

func weight(b *Block) *big.Int {
	if b == nil || b.TotalDifficulty == nil {
		return new(big.Int)
	}
	return b.TotalDifficulty
}

// HeadNotification is a raw head element received from an upstream stream.
type HeadNotification struct {
	Height  uint64
	Weight  []byte // big-endian unsigned total difficulty
	BlockID string // hex without 0x
}

// ParseHeadNotification converts a raw notification into a candidate head.
// The candidate only carries number, hash and total difficulty.
func ParseHeadNotification(n HeadNotification) (*Block, error) {
	id := strings.TrimPrefix(n.BlockID, "0x")
	raw, err := hexutil.Decode("0x" + id)
	if err != nil {
		return nil, apperror.New(apperror.CodeInvalidHeadNotification,
			apperror.WithCause(err),
			apperror.WithContext("block id "+n.BlockID))
	}
	if len(raw) != common.HashLength {
		return nil, apperror.Validation(apperror.CodeInvalidHeadNotification,
			"block id must be 32 bytes")
	}

	return &Block{
		Number:          n.Height,
		Hash:            common.BytesToHash(raw),
		TotalDifficulty: new(big.Int).SetBytes(n.Weight),
	}, nil
}
