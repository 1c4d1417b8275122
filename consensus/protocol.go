package consensus

import (
	"context"
	"sync"

	"github.com/gitzhang10/dagbft/types"
)

// Protocol is a causal ordering rule plugged into the consensus actor.
//
// ProcessCertificate is called exactly once per certificate, in arrival
// order, by a single goroutine. It may mutate state through TryInsert and
// Update and may write to durable storage. It returns the sub-dags committed
// by this certificate, possibly several when older leaders get linked.
// The result must depend only on state and certificate, so that every honest
// replica derives the same sequence.
//
// UpdateCommittee resets the protocol for a new epoch; the caller replaces
// the state with a fresh genesis state right after.
type Protocol interface {
	ProcessCertificate(state *State, consensusIndex uint64, certificate *types.Certificate) ([]*types.CommittedSubDag, error)
	UpdateCommittee(committee *types.Committee) error
}

// SubDagSink receives committed sub-dags for execution. Delivery is best-effort.
type SubDagSink interface {
	Send(ctx context.Context, subDag *types.CommittedSubDag) error
}

// ChannelSink is a SubDagSink backed by a bounded channel. The consumer
// calls Close to disconnect; later sends fail with ErrSinkClosed.
type ChannelSink struct {
	ch        chan *types.CommittedSubDag
	done      chan struct{}
	closeOnce sync.Once
}

func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{
		ch:   make(chan *types.CommittedSubDag, capacity),
		done: make(chan struct{}),
	}
}

// Chan returns the receive side of the sink.
func (s *ChannelSink) Chan() <-chan *types.CommittedSubDag {
	return s.ch
}

// Close disconnects the consumer.
func (s *ChannelSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChannelSink) Send(ctx context.Context, subDag *types.CommittedSubDag) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- subDag:
		return nil
	case <-s.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
