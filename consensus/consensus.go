/*
Package consensus implements the consensus actor of a validator.
The actor owns the DAG cache (State), feeds certificates to a pluggable
ordering Protocol and emits the resulting commit sequence. It reacts to
committee reconfiguration and restarts from durable storage after a crash.
*/
package consensus

import (
	"context"

	"github.com/gitzhang10/dagbft/types"
	"github.com/gitzhang10/dagbft/watch"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// dagSizeSampleInterval bounds how often the DAG size gauge is refreshed,
// in consensus index increments.
const dagSizeSampleInterval = 1000

// MetadataReader is the read side of the consensus metadata store.
type MetadataReader interface {
	ReadLastCommitted() (map[string]types.Round, error)
	ReadLastConsensusIndex() (uint64, error)
}

// Params wires the actor to its collaborators.
type Params struct {
	Committee *types.Committee
	GCDepth   types.Round

	ConsensusStore   MetadataReader
	CertificateStore CertificateReader
	Protocol         Protocol

	RxNewCertificates <-chan *types.Certificate
	RxReconfigure     *watch.Receiver[types.ReconfigureNotification]

	// required consumers
	TxCommittedCertificates chan<- types.CommittedCertificates
	TxRoundUpdates          *watch.Channel[types.Round]
	// best-effort consumer
	TxSequence SubDagSink

	Metrics *Metrics
	Logger  hclog.Logger
}

// Consensus is the single goroutine owning the consensus state.
type Consensus struct {
	committee *types.Committee
	gcDepth   types.Round
	protocol  Protocol

	rxNewCertificates       <-chan *types.Certificate
	rxReconfigure           *watch.Receiver[types.ReconfigureNotification]
	txCommittedCertificates chan<- types.CommittedCertificates
	txRoundUpdates          *watch.Channel[types.Round]
	txSequence              SubDagSink

	state          *State
	consensusIndex uint64 // the next index to assign

	metrics *Metrics
	logger  hclog.Logger
}

// New recovers the consensus state from storage and publishes the recovered
// last committed round.
func New(p Params) (*Consensus, error) {
	if p.Logger == nil {
		p.Logger = hclog.New(&hclog.LoggerOptions{
			Name:   "consensus",
			Output: hclog.DefaultOutput,
			Level:  hclog.DefaultLevel,
		})
	}
	recovered, err := p.ConsensusStore.ReadLastCommitted()
	if err != nil {
		return nil, errors.Wrap(err, "read last committed")
	}
	consensusIndex, err := p.ConsensusStore.ReadLastConsensusIndex()
	if err != nil {
		return nil, errors.Wrap(err, "read last consensus index")
	}
	state, err := NewStateFromStore(types.Genesis(p.Committee), p.Metrics, p.Logger, recovered, p.CertificateStore, p.GCDepth)
	if err != nil {
		return nil, err
	}
	if err := p.TxRoundUpdates.Send(state.LastCommittedRound); err != nil {
		return nil, errors.Wrap(ErrRequiredOutputClosed, "round updates")
	}

	c := &Consensus{
		committee:               p.Committee,
		gcDepth:                 p.GCDepth,
		protocol:                p.Protocol,
		rxNewCertificates:       p.RxNewCertificates,
		rxReconfigure:           p.RxReconfigure,
		txCommittedCertificates: p.TxCommittedCertificates,
		txRoundUpdates:          p.TxRoundUpdates,
		txSequence:              p.TxSequence,
		state:                   state,
		consensusIndex:          consensusIndex,
		metrics:                 p.Metrics,
		logger:                  p.Logger,
	}
	c.logger.Info("consensus started", "epoch", c.committee.Epoch,
		"last-committed-round", state.LastCommittedRound, "consensus-index", consensusIndex)
	return c, nil
}

// Spawn creates the actor and runs it in its own goroutine. The returned
// channel yields the result of Run.
func Spawn(ctx context.Context, p Params) (*Consensus, <-chan error, error) {
	c, err := New(p)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx)
	}()
	return c, errCh, nil
}

// Run is the event loop. It returns nil on a shutdown notice, and an error
// when storage fails, a required output is gone or ctx is done.
func (c *Consensus) Run(ctx context.Context) error {
	rxCertificates := c.rxNewCertificates
	for {
		var certificate *types.Certificate
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cert, ok := <-rxCertificates:
			if !ok {
				c.logger.Warn("certificate channel closed, waiting for reconfiguration only")
				rxCertificates = nil
				continue
			}
			certificate = cert

		case <-c.rxReconfigure.Changed():
			if c.rxReconfigure.Closed() {
				return ErrReconfigureClosed
			}
			stop, err := c.reconfigure(c.rxReconfigure.BorrowAndUpdate())
			if err != nil || stop {
				return err
			}
			continue
		}

		// The core may have moved to the next epoch before the reconfiguration was observed here.
		if certificate.Epoch() > c.committee.Epoch {
			stop, err := c.reconfigure(c.rxReconfigure.BorrowAndUpdate())
			if err != nil || stop {
				return err
			}
		}
		if certificate.Epoch() != c.committee.Epoch {
			// never processed against a committee it was not certified by
			c.logger.Debug("drop certificate of another epoch", "certificate", certificate,
				"epoch", c.committee.Epoch)
			continue
		}

		if err := c.processCertificate(ctx, certificate); err != nil {
			return err
		}
	}
}

// reconfigure applies a notification; it reports whether the actor must stop.
func (c *Consensus) reconfigure(notification types.ReconfigureNotification) (bool, error) {
	switch notification.Kind {
	case types.NewEpoch:
		if notification.Committee.Epoch <= c.committee.Epoch {
			// already applied
			return false, nil
		}
		if err := c.changeEpoch(notification.Committee); err != nil {
			return false, err
		}
	case types.UpdateCommittee:
		c.committee = notification.Committee
	case types.Shutdown:
		c.logger.Info("consensus shutting down", "epoch", c.committee.Epoch)
		return true, nil
	}
	c.logger.Debug("committee updated", "committee", c.committee.String())
	return false, nil
}

func (c *Consensus) changeEpoch(committee *types.Committee) error {
	c.logger.Info("changing epoch", "from", c.committee.Epoch, "to", committee.Epoch)
	c.committee = committee
	if err := c.protocol.UpdateCommittee(committee); err != nil {
		return errors.Wrapf(err, "update committee to epoch %d", committee.Epoch)
	}
	c.state = NewState(types.Genesis(committee), c.metrics)
	c.consensusIndex = 0
	c.metrics.setLastCommittedRound(0)
	c.metrics.setDagSize(c.state.Dag.Size())
	if err := c.txRoundUpdates.Send(0); err != nil {
		return errors.Wrap(ErrRequiredOutputClosed, "round updates")
	}
	return nil
}

func (c *Consensus) processCertificate(ctx context.Context, certificate *types.Certificate) error {
	sequence, err := c.protocol.ProcessCertificate(c.state, c.consensusIndex, certificate)
	if err != nil {
		c.logger.Error("failed to process certificate", "certificate", certificate, "error", err)
		return errors.Wrapf(err, "process certificate %s", certificate)
	}

	previous := c.consensusIndex
	var committed []*types.Certificate
	for _, subDag := range sequence {
		c.consensusIndex += uint64(subDag.Len())
		for _, sc := range subDag.Certificates {
			committed = append(committed, sc.Certificate)
		}
		if err := c.txSequence.Send(ctx, subDag); err != nil {
			c.logger.Warn("failed to output committed sub-dag", "leader-round", subDag.LeaderRound(), "error", err)
		}
	}
	if previous/dagSizeSampleInterval != c.consensusIndex/dagSizeSampleInterval {
		c.metrics.setDagSize(c.state.Dag.Size())
	}
	if len(committed) == 0 {
		return nil
	}
	c.metrics.addCommitted(len(committed))

	// the highest committed round is the leader round expected by the primary
	var leaderCommitRound types.Round
	for _, cert := range committed {
		if cert.Round() > leaderCommitRound {
			leaderCommitRound = cert.Round()
		}
	}
	select {
	case c.txCommittedCertificates <- types.CommittedCertificates{Round: leaderCommitRound, Certificates: committed}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.txRoundUpdates.Send(leaderCommitRound); err != nil {
		c.logger.Error("failed to publish committed round", "round", leaderCommitRound)
		return errors.Wrap(ErrRequiredOutputClosed, "round updates")
	}
	return nil
}

// State returns the consensus state. Only safe to call when Run is not running.
func (c *Consensus) State() *State {
	return c.state
}

// ConsensusIndex returns the next index to assign. Only safe to call when Run is not running.
func (c *Consensus) ConsensusIndex() uint64 {
	return c.consensusIndex
}

// Committee returns the current committee. Only safe to call when Run is not running.
func (c *Consensus) Committee() *types.Committee {
	return c.committee
}
