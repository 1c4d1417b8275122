package consensus

import (
	"github.com/gitzhang10/dagbft/types"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// DagEntry is a certificate cached in the DAG together with its digest.
type DagEntry struct {
	Digest      types.Digest
	Certificate *types.Certificate
}

// Dag maps round to author to certificate.
type Dag map[types.Round]map[string]DagEntry

// Size returns the number of certificates in the DAG.
func (d Dag) Size() int {
	n := 0
	for _, authorities := range d {
		n += len(authorities)
	}
	return n
}

// CertificateReader is the read side of the certificate store used for recovery.
type CertificateReader interface {
	// AfterRound returns every certificate with round >= round.
	AfterRound(round types.Round) ([]*types.Certificate, error)
}

// epochReader hides the certificates of other epochs. Rounds restart at each
// epoch, so a stale certificate would otherwise pass admission.
type epochReader struct {
	reader CertificateReader
	epoch  types.Epoch
}

func (r epochReader) AfterRound(round types.Round) ([]*types.Certificate, error) {
	certs, err := r.reader.AfterRound(round)
	if err != nil {
		return nil, err
	}
	filtered := certs[:0]
	for _, c := range certs {
		if c.Epoch() == r.epoch {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// State is the working set of the ordering protocol. It is owned by the
// consensus actor and must never be shared between goroutines.
type State struct {
	// The last committed round, always the maximum of LastCommitted.
	LastCommittedRound types.Round
	// Keeps the last committed round for each authority. This map is used to clean up the dag and
	// ensure we don't commit twice the same certificate.
	LastCommitted map[string]types.Round
	// Keeps the latest committed certificate (and its parents) for every authority. Anything older
	// must be regularly cleaned up through the function Update.
	Dag Dag

	metrics *Metrics
}

// NewState builds the round-0 state from one genesis certificate per authority.
func NewState(genesis []*types.Certificate, metrics *Metrics) *State {
	lastCommitted := make(map[string]types.Round, len(genesis))
	roots := make(map[string]DagEntry, len(genesis))
	for _, c := range genesis {
		lastCommitted[c.Origin()] = c.Round()
		roots[c.Origin()] = DagEntry{Digest: c.Digest(), Certificate: c}
	}
	return &State{
		LastCommittedRound: 0,
		LastCommitted:      lastCommitted,
		Dag:                Dag{0: roots},
		metrics:            metrics,
	}
}

// NewStateFromStore rebuilds the state after a restart. An empty or all-zero
// recoveredLastCommitted yields the genesis state. Only certificates of the
// genesis epoch are recovered.
func NewStateFromStore(
	genesis []*types.Certificate,
	metrics *Metrics,
	logger hclog.Logger,
	recoveredLastCommitted map[string]types.Round,
	certStore CertificateReader,
	gcDepth types.Round,
) (*State, error) {
	var lastCommittedRound types.Round
	for _, round := range recoveredLastCommitted {
		if round > lastCommittedRound {
			lastCommittedRound = round
		}
	}
	if lastCommittedRound == 0 {
		return NewState(genesis, metrics), nil
	}

	var epoch types.Epoch
	if len(genesis) > 0 {
		epoch = genesis[0].Epoch()
	}
	dag, skipped, err := ConstructDagFromCertStore(epochReader{reader: certStore, epoch: epoch}, lastCommittedRound, recoveredLastCommitted, gcDepth)
	if err != nil {
		return nil, errors.Wrap(err, "recover dag from certificate store")
	}
	metrics.incRecovered()
	metrics.setLastCommittedRound(lastCommittedRound)
	metrics.setDagSize(dag.Size())
	logger.Info("recovered consensus state", "last-committed-round", lastCommittedRound,
		"rounds", len(dag), "certificates", dag.Size(), "skipped", skipped)

	lastCommitted := make(map[string]types.Round, len(recoveredLastCommitted))
	for name, round := range recoveredLastCommitted {
		lastCommitted[name] = round
	}
	return &State{
		LastCommittedRound: lastCommittedRound,
		LastCommitted:      lastCommitted,
		Dag:                dag,
		metrics:            metrics,
	}, nil
}

// ConstructDagFromCertStore reads every certificate above
// lastCommittedRound-gcDepth and admits it with the same rule as TryInsert.
// Certificates failing admission are skipped and counted.
func ConstructDagFromCertStore(
	certStore CertificateReader,
	lastCommittedRound types.Round,
	lastCommitted map[string]types.Round,
	gcDepth types.Round,
) (Dag, int, error) {
	var minRound types.Round
	if lastCommittedRound > gcDepth {
		minRound = lastCommittedRound - gcDepth
	}
	certs, err := certStore.AfterRound(minRound + 1)
	if err != nil {
		return nil, 0, err
	}
	dag := make(Dag)
	skipped := 0
	for _, c := range certs {
		if err := tryInsertInDag(dag, lastCommitted, c); err != nil {
			skipped++
		}
	}
	return dag, skipped, nil
}

func tryInsertInDag(dag Dag, lastCommitted map[string]types.Round, c *types.Certificate) error {
	if c.Round() < lastCommitted[c.Origin()] {
		return ErrCertificateTooOld
	}
	authorities, ok := dag[c.Round()]
	if !ok {
		authorities = make(map[string]DagEntry)
		dag[c.Round()] = authorities
	}
	// last write wins, equivocation is filtered before certificates reach consensus
	authorities[c.Origin()] = DagEntry{Digest: c.Digest(), Certificate: c}
	return nil
}

// TryInsert admits a certificate into the DAG unless it is below its
// author's last committed round.
func (s *State) TryInsert(c *types.Certificate) error {
	return tryInsertInDag(s.Dag, s.LastCommitted, c)
}

// Update marks the certificate committed and garbage collects the DAG.
func (s *State) Update(c *types.Certificate, gcDepth types.Round) {
	if round, ok := s.LastCommitted[c.Origin()]; !ok || c.Round() > round {
		s.LastCommitted[c.Origin()] = c.Round()
	}
	var lastCommittedRound types.Round
	for _, round := range s.LastCommitted {
		if round > lastCommittedRound {
			lastCommittedRound = round
		}
	}
	s.LastCommittedRound = lastCommittedRound
	s.metrics.setLastCommittedRound(lastCommittedRound)
	s.metrics.observeCommitLatency(c.CreatedAt())

	for round, authorities := range s.Dag {
		if round+gcDepth < lastCommittedRound {
			delete(s.Dag, round)
			continue
		}
		for name := range authorities {
			if committed, ok := s.LastCommitted[name]; ok && round < committed {
				delete(authorities, name)
			}
		}
		if len(authorities) == 0 {
			delete(s.Dag, round)
		}
	}
}
