package store

import (
	"testing"

	"github.com/gitzhang10/dagbft/fixture"
	"github.com/gitzhang10/dagbft/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var authors = []string{"node0", "node1", "node2", "node3"}

func newStores(t *testing.T) (*CertificateStore, *ConsensusStore) {
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	certStore, err := NewCertificateStore(db, 16)
	require.NoError(t, err)
	return certStore, NewConsensusStore(db)
}

func TestCertificateStoreReadWrite(t *testing.T) {
	certStore, _ := newStores(t)
	cert := fixture.Certificate("node1", 3, 1, nil)

	_, err := certStore.Read(cert.Digest())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, certStore.Write(cert))
	got, err := certStore.Read(cert.Digest())
	require.NoError(t, err)
	assert.Equal(t, cert.Digest(), got.Digest())

	ok, err := certStore.Contains(cert.Digest())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCertificateStoreReadBypassesCache(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	writer, err := NewCertificateStore(db, 16)
	require.NoError(t, err)
	cert := fixture.Certificate("node2", 7, 1, nil)
	require.NoError(t, writer.Write(cert))

	// a second store over the same db starts with a cold cache
	reader, err := NewCertificateStore(db, 16)
	require.NoError(t, err)
	got, err := reader.Read(cert.Digest())
	require.NoError(t, err)
	assert.Equal(t, "node2", got.Origin())
	assert.Equal(t, types.Round(7), got.Round())
}

func TestAfterRound(t *testing.T) {
	certStore, _ := newStores(t)
	certs, _ := fixture.Certificates(1, 12, 1, nil, authors)
	require.NoError(t, certStore.WriteAll(certs))

	after, err := certStore.AfterRound(9)
	require.NoError(t, err)
	assert.Len(t, after, 4*4)
	for _, c := range after {
		assert.GreaterOrEqual(t, c.Round(), types.Round(9))
	}
	// returned in round order
	for i := 1; i < len(after); i++ {
		assert.LessOrEqual(t, after[i-1].Round(), after[i].Round())
	}

	after, err = certStore.AfterRound(13)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestDeleteBeforeEpoch(t *testing.T) {
	certStore, _ := newStores(t)
	old, _ := fixture.Certificates(1, 20, 0, nil, authors)
	current, _ := fixture.Certificates(1, 5, 1, nil, authors)
	require.NoError(t, certStore.WriteAll(old))
	require.NoError(t, certStore.WriteAll(current))

	deleted, err := certStore.DeleteBeforeEpoch(1)
	require.NoError(t, err)
	assert.Equal(t, len(old), deleted)

	remaining, err := certStore.AfterRound(0)
	require.NoError(t, err)
	assert.Len(t, remaining, len(current))
	for _, c := range remaining {
		assert.Equal(t, types.Epoch(1), c.Epoch())
	}
	ok, err := certStore.Contains(old[len(old)-1].Digest())
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = certStore.DeleteBeforeEpoch(1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteBeforeRound(t *testing.T) {
	certStore, _ := newStores(t)
	certs, _ := fixture.Certificates(1, 6, 1, nil, authors)
	require.NoError(t, certStore.WriteAll(certs))

	require.NoError(t, certStore.DeleteBeforeRound(4))

	remaining, err := certStore.AfterRound(0)
	require.NoError(t, err)
	assert.Len(t, remaining, 3*4)
	for _, c := range remaining {
		assert.GreaterOrEqual(t, c.Round(), types.Round(4))
	}
	_, err = certStore.Read(certs[0].Digest())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsensusStore(t *testing.T) {
	_, consensusStore := newStores(t)

	lastCommitted, err := consensusStore.ReadLastCommitted()
	require.NoError(t, err)
	assert.Empty(t, lastCommitted)
	index, err := consensusStore.ReadLastConsensusIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)

	a := fixture.Certificate("node0", 2, 1, nil)
	b := fixture.Certificate("node1", 2, 1, nil)
	require.NoError(t, consensusStore.WriteConsensusState(map[string]types.Round{"node0": 2}, 1, a.Digest()))
	require.NoError(t, consensusStore.WriteConsensusState(map[string]types.Round{"node0": 2, "node1": 2}, 2, b.Digest()))

	lastCommitted, err = consensusStore.ReadLastCommitted()
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Round{"node0": 2, "node1": 2}, lastCommitted)
	index, err = consensusStore.ReadLastConsensusIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	sequence, err := consensusStore.ReadSequence(0)
	require.NoError(t, err)
	assert.Equal(t, []types.Digest{a.Digest(), b.Digest()}, sequence)
	sequence, err = consensusStore.ReadSequence(1)
	require.NoError(t, err)
	assert.Equal(t, []types.Digest{b.Digest()}, sequence)

	require.NoError(t, consensusStore.Clear())
	lastCommitted, err = consensusStore.ReadLastCommitted()
	require.NoError(t, err)
	assert.Empty(t, lastCommitted)
	index, err = consensusStore.ReadLastConsensusIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)
}
