package store

import (
	"github.com/gitzhang10/dagbft/types"
	lru "github.com/hashicorp/golang-lru"
	pkgerrors "github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	prefixCertificate = "c/" // digest -> certificate
	prefixRound       = "r/" // round | digest -> nil

	defaultCacheSize = 1024
)

// CertificateStore is the append-only log of certificates, indexed by round.
type CertificateStore struct {
	db    *DB
	cache *lru.Cache // map from digest to *types.Certificate
}

// NewCertificateStore creates a certificate store with a read cache of cacheSize entries.
func NewCertificateStore(db *DB, cacheSize int) (*CertificateStore, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &CertificateStore{db: db, cache: cache}, nil
}

func roundKey(round types.Round, digest types.Digest) []byte {
	return genKey(prefixRound, uint64ToBytes(round), digest[:])
}

func (s *CertificateStore) put(batch *leveldb.Batch, cert *types.Certificate) (types.Digest, error) {
	digest := cert.Digest()
	value, err := types.Encode(cert)
	if err != nil {
		return digest, pkgerrors.Wrapf(err, "encode certificate %s", digest.Short())
	}
	batch.Put(genKey(prefixCertificate, digest[:]), value)
	batch.Put(roundKey(cert.Round(), digest), nil)
	return digest, nil
}

// Write persists a single certificate.
func (s *CertificateStore) Write(cert *types.Certificate) error {
	return s.WriteAll([]*types.Certificate{cert})
}

// WriteAll persists the certificates atomically.
func (s *CertificateStore) WriteAll(certs []*types.Certificate) error {
	batch := new(leveldb.Batch)
	digests := make([]types.Digest, 0, len(certs))
	for _, cert := range certs {
		digest, err := s.put(batch, cert)
		if err != nil {
			return err
		}
		digests = append(digests, digest)
	}
	if err := s.db.write(batch); err != nil {
		return err
	}
	for i, digest := range digests {
		s.cache.Add(digest, certs[i])
	}
	return nil
}

// Read returns the certificate with the given digest.
func (s *CertificateStore) Read(digest types.Digest) (*types.Certificate, error) {
	if v, ok := s.cache.Get(digest); ok {
		return v.(*types.Certificate), nil
	}
	value, err := s.db.get(genKey(prefixCertificate, digest[:]))
	if err != nil {
		return nil, err
	}
	var cert types.Certificate
	if err := types.Decode(value, &cert); err != nil {
		return nil, pkgerrors.Wrapf(err, "decode certificate %s", digest.Short())
	}
	s.cache.Add(digest, &cert)
	return &cert, nil
}

// Contains reports whether the certificate is stored.
func (s *CertificateStore) Contains(digest types.Digest) (bool, error) {
	if s.cache.Contains(digest) {
		return true, nil
	}
	ok, err := s.db.db.Has(genKey(prefixCertificate, digest[:]), nil)
	if err != nil {
		return false, pkgerrors.Wrap(err, "lookup certificate")
	}
	return ok, nil
}

// AfterRound returns every stored certificate whose round is >= round, in round order.
func (s *CertificateStore) AfterRound(round types.Round) ([]*types.Certificate, error) {
	digests, err := s.scanRounds(&util.Range{
		Start: genKey(prefixRound, uint64ToBytes(round)),
		Limit: util.BytesPrefix([]byte(prefixRound)).Limit,
	})
	if err != nil {
		return nil, err
	}
	certs := make([]*types.Certificate, 0, len(digests))
	for _, digest := range digests {
		cert, err := s.Read(digest)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// DeleteBeforeRound removes every certificate whose round is < round.
func (s *CertificateStore) DeleteBeforeRound(round types.Round) error {
	digests, err := s.scanRounds(&util.Range{
		Start: []byte(prefixRound),
		Limit: genKey(prefixRound, uint64ToBytes(round)),
	})
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, digest := range digests {
		cert, err := s.Read(digest)
		if err != nil {
			return err
		}
		batch.Delete(genKey(prefixCertificate, digest[:]))
		batch.Delete(roundKey(cert.Round(), digest))
	}
	if err := s.db.write(batch); err != nil {
		return err
	}
	for _, digest := range digests {
		s.cache.Remove(digest)
	}
	return nil
}

// DeleteBeforeEpoch removes every certificate of an epoch older than epoch.
// Rounds restart at each epoch, so these are never reached by DeleteBeforeRound.
func (s *CertificateStore) DeleteBeforeEpoch(epoch types.Epoch) (int, error) {
	iter := s.db.db.NewIterator(util.BytesPrefix([]byte(prefixCertificate)), nil)
	batch := new(leveldb.Batch)
	var digests []types.Digest
	for iter.Next() {
		var cert types.Certificate
		if err := types.Decode(iter.Value(), &cert); err != nil {
			iter.Release()
			return 0, pkgerrors.Wrap(err, "decode certificate")
		}
		if cert.Epoch() >= epoch {
			continue
		}
		var digest types.Digest
		copy(digest[:], iter.Key()[len(prefixCertificate):])
		batch.Delete(genKey(prefixCertificate, digest[:]))
		batch.Delete(roundKey(cert.Round(), digest))
		digests = append(digests, digest)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, pkgerrors.Wrap(err, "scan certificates")
	}
	if len(digests) == 0 {
		return 0, nil
	}
	if err := s.db.write(batch); err != nil {
		return 0, err
	}
	for _, digest := range digests {
		s.cache.Remove(digest)
	}
	return len(digests), nil
}

func (s *CertificateStore) scanRounds(r *util.Range) ([]types.Digest, error) {
	iter := s.db.db.NewIterator(r, nil)
	defer iter.Release()
	var digests []types.Digest
	for iter.Next() {
		key := iter.Key()
		var digest types.Digest
		copy(digest[:], key[len(prefixRound)+8:])
		digests = append(digests, digest)
	}
	if err := iter.Error(); err != nil {
		return nil, pkgerrors.Wrap(err, "scan round index")
	}
	return digests, nil
}
