package store

import (
	"github.com/gitzhang10/dagbft/types"
	pkgerrors "github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	prefixLastCommitted = "lc/"  // author -> round
	prefixSequence      = "seq/" // consensus index -> digest
	keyConsensusIndex   = "ci"
)

// ConsensusStore persists the per-authority last committed rounds and the
// global consensus index.
type ConsensusStore struct {
	db *DB
}

func NewConsensusStore(db *DB) *ConsensusStore {
	return &ConsensusStore{db: db}
}

// ReadLastCommitted returns the last committed round of every authority seen.
func (s *ConsensusStore) ReadLastCommitted() (map[string]types.Round, error) {
	iter := s.db.db.NewIterator(util.BytesPrefix([]byte(prefixLastCommitted)), nil)
	defer iter.Release()
	lastCommitted := make(map[string]types.Round)
	for iter.Next() {
		name := string(iter.Key()[len(prefixLastCommitted):])
		lastCommitted[name] = bytesToUint64(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return nil, pkgerrors.Wrap(err, "read last committed")
	}
	return lastCommitted, nil
}

// ReadLastConsensusIndex returns the next consensus index to assign, zero on a fresh store.
func (s *ConsensusStore) ReadLastConsensusIndex() (uint64, error) {
	v, err := s.db.get([]byte(keyConsensusIndex))
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bytesToUint64(v), nil
}

// WriteConsensusState atomically records the last committed rounds, the
// next consensus index and the digest sequenced just before it.
func (s *ConsensusStore) WriteConsensusState(lastCommitted map[string]types.Round, consensusIndex uint64, digest types.Digest) error {
	batch := new(leveldb.Batch)
	for name, round := range lastCommitted {
		batch.Put(genKey(prefixLastCommitted, []byte(name)), uint64ToBytes(round))
	}
	batch.Put([]byte(keyConsensusIndex), uint64ToBytes(consensusIndex))
	if consensusIndex > 0 {
		batch.Put(genKey(prefixSequence, uint64ToBytes(consensusIndex-1)), digest[:])
	}
	return s.db.write(batch)
}

// ReadSequence returns the sequenced digests from the given index onwards, in order.
func (s *ConsensusStore) ReadSequence(from uint64) ([]types.Digest, error) {
	iter := s.db.db.NewIterator(&util.Range{
		Start: genKey(prefixSequence, uint64ToBytes(from)),
		Limit: util.BytesPrefix([]byte(prefixSequence)).Limit,
	}, nil)
	defer iter.Release()
	var digests []types.Digest
	for iter.Next() {
		var d types.Digest
		copy(d[:], iter.Value())
		digests = append(digests, d)
	}
	if err := iter.Error(); err != nil {
		return nil, pkgerrors.Wrap(err, "read sequence")
	}
	return digests, nil
}

// Clear drops the consensus metadata, used when a new epoch starts.
func (s *ConsensusStore) Clear() error {
	batch := new(leveldb.Batch)
	for _, prefix := range []string{prefixLastCommitted, prefixSequence} {
		iter := s.db.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return pkgerrors.Wrap(err, "clear consensus store")
		}
	}
	batch.Delete([]byte(keyConsensusIndex))
	return s.db.write(batch)
}
