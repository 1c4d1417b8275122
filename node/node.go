/*
Package node hosts the consensus core of one validator: it opens the stores,
accepts certificates from the local primary, runs the consensus actor with
the Bullshark rule and drains its outputs.
*/
package node

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gitzhang10/dagbft/bullshark"
	"github.com/gitzhang10/dagbft/config"
	"github.com/gitzhang10/dagbft/conn"
	"github.com/gitzhang10/dagbft/consensus"
	"github.com/gitzhang10/dagbft/store"
	"github.com/gitzhang10/dagbft/types"
	"github.com/gitzhang10/dagbft/watch"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const dialTimeout = 30 * time.Second

type Node struct {
	name    string
	gcDepth types.Round
	logger  hclog.Logger

	db             *store.DB
	certStore      *store.CertificateStore
	consensusStore *store.ConsensusStore

	trans *conn.NetworkTransport

	registry        *prometheus.Registry
	metrics         *consensus.Metrics
	metricsAddr     string
	metricsListener net.Listener
	metricsServer   *http.Server

	txNewCertificates       chan *types.Certificate
	reconfigure             *watch.Channel[types.ReconfigureNotification]
	txCommittedCertificates chan types.CommittedCertificates
	rounds                  *watch.Channel[types.Round]
	sink                    *consensus.ChannelSink

	consensus *consensus.Consensus
	done      chan struct{}
	err       error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the stores, recovers consensus and starts listening for certificates.
func New(conf *config.Config) (*Node, error) {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   conf.Name,
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	})

	db, err := store.Open(conf.StorePath)
	if err != nil {
		return nil, err
	}
	certStore, err := store.NewCertificateStore(db, 0)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics, err := consensus.NewMetrics(registry)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "register metrics")
	}

	n := &Node{
		name:                    conf.Name,
		gcDepth:                 conf.GCDepth,
		logger:                  logger,
		db:                      db,
		certStore:               certStore,
		consensusStore:          store.NewConsensusStore(db),
		registry:                registry,
		metrics:                 metrics,
		metricsAddr:             conf.MetricsAddr,
		txNewCertificates:       make(chan *types.Certificate, conf.ChannelCapacity),
		reconfigure:             watch.New(types.ReconfigureNotification{Kind: types.NewEpoch, Committee: conf.Committee}),
		txCommittedCertificates: make(chan types.CommittedCertificates, conf.ChannelCapacity),
		rounds:                  watch.New[types.Round](0),
		sink:                    consensus.NewChannelSink(conf.ChannelCapacity),
		done:                    make(chan struct{}),
	}

	n.consensus, err = consensus.New(consensus.Params{
		Committee:               conf.Committee,
		GCDepth:                 conf.GCDepth,
		ConsensusStore:          n.consensusStore,
		CertificateStore:        certStore,
		Protocol:                bullshark.New(conf.Committee, n.consensusStore, conf.GCDepth, logger.Named("bullshark")),
		RxNewCertificates:       n.txNewCertificates,
		RxReconfigure:           n.reconfigure.Subscribe(),
		TxCommittedCertificates: n.txCommittedCertificates,
		TxRoundUpdates:          n.rounds,
		TxSequence:              n.sink,
		Metrics:                 metrics,
		Logger:                  logger.Named("consensus"),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if digest, ok, err := n.lastSequenced(); err != nil {
		logger.Warn("failed to read the commit sequence", "error", err)
	} else if ok {
		logger.Info("resuming after sequenced certificate", "index", n.consensus.ConsensusIndex()-1, "digest", digest.Short())
	}

	n.trans, err = conn.NewTCPTransport(conf.ListenAddr, dialTimeout, logger.Named("net"), conf.MaxPool, conf.ChannelCapacity)
	if err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

// lastSequenced returns the digest of the last certificate sequenced before
// the restart, if any.
func (n *Node) lastSequenced() (types.Digest, bool, error) {
	index := n.consensus.ConsensusIndex()
	if index == 0 {
		return types.Digest{}, false, nil
	}
	digests, err := n.consensusStore.ReadSequence(index - 1)
	if err != nil || len(digests) == 0 {
		return types.Digest{}, false, err
	}
	return digests[0], true, nil
}

// Start runs consensus and the loops around it.
func (n *Node) Start(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	if n.metricsAddr != "" {
		listener, err := net.Listen("tcp", n.metricsAddr)
		if err != nil {
			n.cancel()
			return errors.Wrap(err, "listen for metrics")
		}
		n.metricsListener = listener
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
		n.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		n.goLoop(func() {
			if err := n.metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				n.logger.Error("metrics server stopped", "error", err)
			}
		})
	}

	n.goLoop(func() { n.persistLoop(ctx) })
	n.goLoop(func() { n.executionLoop(ctx) })
	n.goLoop(func() { n.committedLoop(ctx) })
	n.goLoop(func() { n.gcLoop(ctx) })

	go func() {
		defer close(n.done)
		n.err = n.consensus.Run(ctx)
		if n.err != nil && ctx.Err() == nil {
			n.logger.Error("consensus stopped", "error", n.err)
		}
		n.cancel()
	}()

	n.logger.Info("node started", "listen-address", n.trans.LocalAddr(), "metrics-address", n.metricsAddr)
	return nil
}

func (n *Node) goLoop(f func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		f()
	}()
}

// Reconfigure publishes a reconfiguration notification to consensus.
func (n *Node) Reconfigure(notification types.ReconfigureNotification) error {
	return n.reconfigure.Send(notification)
}

// Done is closed once consensus has stopped.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// ListenAddr returns the address certificates are accepted on.
func (n *Node) ListenAddr() string {
	return n.trans.LocalAddr()
}

// LastCommittedRound returns the latest round published by consensus.
func (n *Node) LastCommittedRound() types.Round {
	return n.rounds.Borrow()
}

// Shutdown asks consensus to stop, then stops every loop and closes the stores.
// It returns the error consensus stopped with, if any.
func (n *Node) Shutdown() error {
	if n.cancel == nil {
		// never started
		n.trans.Close()
		n.reconfigure.Close()
		n.rounds.Close()
		return n.db.Close()
	}
	if err := n.reconfigure.Send(types.ReconfigureNotification{Kind: types.Shutdown}); err != nil {
		n.logger.Warn("failed to notify shutdown", "error", err)
	}
	<-n.done
	n.cancel()
	n.trans.Close()
	if n.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.metricsServer.Shutdown(ctx); err != nil {
			n.logger.Error("failed to stop the metrics server", "error", err)
		}
		cancel()
	}
	n.wg.Wait()
	n.reconfigure.Close()
	n.rounds.Close()
	if err := n.db.Close(); err != nil {
		n.logger.Error("failed to close the store", "error", err)
	}
	return n.err
}
