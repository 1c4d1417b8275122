package node

import (
	"context"

	"github.com/gitzhang10/dagbft/types"
)

// persistLoop writes every certificate from the primary to the certificate
// store before consensus sees it, so recovery never misses a DAG vertex.
func (n *Node) persistLoop(ctx context.Context) {
	certCh := n.trans.Certificates()
	for {
		select {
		case <-ctx.Done():
			return
		case cert := <-certCh:
			stored, err := n.certStore.Contains(cert.Digest())
			if err == nil && !stored {
				err = n.certStore.Write(cert)
			}
			if err != nil {
				n.logger.Error("failed to persist certificate", "certificate", cert, "error", err)
				n.cancel()
				return
			}
			select {
			case n.txNewCertificates <- cert:
			case <-ctx.Done():
				return
			}
		}
	}
}

// executionLoop consumes the committed sub-dags.
func (n *Node) executionLoop(ctx context.Context) {
	subDagCh := n.sink.Chan()
	defer n.sink.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case subDag := <-subDagCh:
			n.logger.Info("commit the leader certificate", "round", subDag.LeaderRound(),
				"proposer", subDag.Leader.Origin(), "certificates", subDag.Len())
			for _, sc := range subDag.Certificates {
				n.logger.Debug("sequenced certificate", "index", sc.ConsensusIndex,
					"certificate", sc.Certificate, "digest", sc.Certificate.Digest().Short())
			}
		}
	}
}

// committedLoop plays the primary's side of the committed certificates channel.
func (n *Node) committedLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case committed := <-n.txCommittedCertificates:
			n.logger.Debug("certificates committed", "round", committed.Round,
				"certificates", len(committed.Certificates))
		}
	}
}

// gcLoop drops the stored certificates that consensus can no longer need:
// those too far below the committed round, and those of past epochs.
func (n *Node) gcLoop(ctx context.Context) {
	rx := n.rounds.Subscribe()
	reconfigure := n.reconfigure.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-reconfigure.Changed():
			if reconfigure.Closed() {
				return
			}
			notification := reconfigure.BorrowAndUpdate()
			if notification.Kind != types.NewEpoch {
				continue
			}
			deleted, err := n.certStore.DeleteBeforeEpoch(notification.Committee.Epoch)
			if err != nil {
				n.logger.Error("failed to clean up certificates of past epochs", "epoch", notification.Committee.Epoch, "error", err)
				continue
			}
			n.logger.Debug("cleaned up certificates of past epochs", "epoch", notification.Committee.Epoch, "certificates", deleted)
		case <-rx.Changed():
			if rx.Closed() {
				return
			}
			round := rx.BorrowAndUpdate()
			if round <= n.gcDepth {
				continue
			}
			if err := n.certStore.DeleteBeforeRound(round - n.gcDepth); err != nil {
				n.logger.Error("failed to clean up certificates", "round", round, "error", err)
			}
		}
	}
}
