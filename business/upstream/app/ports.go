// Package app contains the upstream aggregate, its head selection and
// subscription machinery, and the ports it consumes.
package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/upstream-gateway/business/upstream/domain"
)

// Stream is a server-push sequence from a remote node.
// Recv blocks until the next element, the end of the stream (io.EOF) or an error.
// Close must be safe to call more than once and from another goroutine.
type Stream[T any] interface {
	Recv() (T, error)
	Close() error
}

// HeadStream delivers raw head notifications.
type HeadStream = Stream[domain.HeadNotification]

// StatusStream delivers externally reported chain statuses.
type StatusStream = Stream[domain.ChainStatus]

// HeadStreamer opens a head subscription for one chain.
type HeadStreamer interface {
	SubscribeHead(ctx context.Context, chain domain.Chain) (HeadStream, error)
}

// StatusStreamer opens a status subscription for one chain.
type StatusStreamer interface {
	SubscribeStatus(ctx context.Context, chain domain.Chain) (StatusStream, error)
}

// Describer returns the capability description of a remote node.
type Describer interface {
	Describe(ctx context.Context) ([]domain.DescribeChain, error)
}

// RemoteAPI is the call client of one upstream.
type RemoteAPI interface {
	// BlockByHash fetches a fully populated block.
	BlockByHash(ctx context.Context, hash common.Hash) (*domain.Block, error)

	// Call invokes an arbitrary remote method and decodes the result into result.
	Call(ctx context.Context, result any, method string, args ...any) error
}
