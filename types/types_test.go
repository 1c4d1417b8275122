package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/key"
)

func testCommittee(n int) *Committee {
	authorities := make(map[string]Authority)
	for _, name := range []string{"node0", "node1", "node2", "node3", "node4", "node5", "node6"}[:n] {
		authorities[name] = Authority{Stake: 1, PublicKey: key.NewKeyPair(Suite).Public}
	}
	return NewCommittee(1, authorities)
}

func TestDigestIsDeterministic(t *testing.T) {
	a := &Certificate{Header: Header{Author: "node0", Round: 3, Epoch: 1}}
	b := &Certificate{Header: Header{Author: "node0", Round: 3, Epoch: 1}}
	assert.Equal(t, a.Digest(), b.Digest())

	c := &Certificate{Header: Header{Author: "node1", Round: 3, Epoch: 1}}
	assert.NotEqual(t, a.Digest(), c.Digest())

	// signatures do not take part in the digest
	b.Signature = []byte{1, 2, 3}
	assert.Equal(t, a.Digest(), b.Digest())
}

func TestEncodeDecodeCertificate(t *testing.T) {
	parent := &Certificate{Header: Header{Author: "node2", Round: 4, Epoch: 2}}
	cert := &Certificate{
		Header: Header{
			Author:    "node1",
			Round:     5,
			Epoch:     2,
			Parents:   []Digest{parent.Digest()},
			CreatedAt: 42,
		},
		Signature: []byte("sig"),
	}
	encoded, err := Encode(cert)
	require.NoError(t, err)

	var decoded Certificate
	require.NoError(t, Decode(encoded, &decoded))
	assert.Equal(t, cert.Digest(), decoded.Digest())
	assert.True(t, decoded.Header.HasParent(parent.Digest()))
	assert.Equal(t, []byte("sig"), decoded.Signature)
}

func TestGenesis(t *testing.T) {
	committee := testCommittee(4)
	genesis := Genesis(committee)
	require.Len(t, genesis, 4)
	for i, c := range genesis {
		assert.Equal(t, committee.Names()[i], c.Origin())
		assert.Equal(t, Round(0), c.Round())
		assert.Equal(t, committee.Epoch, c.Epoch())
	}
	// same committee, same genesis
	assert.Equal(t, genesis[0].Digest(), Genesis(committee)[0].Digest())
}

func TestCommitteeThresholds(t *testing.T) {
	committee := testCommittee(4)
	assert.Equal(t, Stake(4), committee.TotalStake())
	assert.Equal(t, Stake(3), committee.QuorumThreshold())
	assert.Equal(t, Stake(2), committee.ValidityThreshold())

	committee = testCommittee(7)
	assert.Equal(t, Stake(5), committee.QuorumThreshold())
	assert.Equal(t, Stake(3), committee.ValidityThreshold())
}

func TestCommitteeLeader(t *testing.T) {
	committee := testCommittee(4)
	assert.Equal(t, "node0", committee.Leader(0))
	assert.Equal(t, "node2", committee.Leader(2))
	assert.Equal(t, "node0", committee.Leader(4))
	assert.Equal(t, "", NewCommittee(1, nil).Leader(2))
}

func TestPublicKeyRoundTrip(t *testing.T) {
	committee := testCommittee(1)
	s, err := committee.PublicKeyHex("node0")
	require.NoError(t, err)
	p, err := DecodePublicKey(s)
	require.NoError(t, err)
	assert.True(t, p.Equal(committee.Authorities["node0"].PublicKey))

	_, err = committee.PublicKeyHex("nobody")
	assert.Error(t, err)
}
