/*
Package fixture builds committees and certificate DAGs for tests.
*/
package fixture

import (
	"strconv"

	"github.com/gitzhang10/dagbft/types"
	"go.dedis.ch/kyber/v3/util/key"
)

// Committee returns a committee of n authorities named node0..node{n-1}, each with stake 1.
func Committee(epoch types.Epoch, n int) *types.Committee {
	authorities := make(map[string]types.Authority, n)
	for i := 0; i < n; i++ {
		pair := key.NewKeyPair(types.Suite)
		authorities["node"+strconv.Itoa(i)] = types.Authority{
			Stake:     1,
			PublicKey: pair.Public,
			Address:   "127.0.0.1:" + strconv.Itoa(9000+10*i),
		}
	}
	return types.NewCommittee(epoch, authorities)
}

// Certificate builds a certificate of the given author and round.
func Certificate(author string, round types.Round, epoch types.Epoch, parents []types.Digest) *types.Certificate {
	return &types.Certificate{
		Header: types.Header{
			Author:    author,
			Round:     round,
			Epoch:     epoch,
			Parents:   parents,
			CreatedAt: int64(round),
		},
	}
}

// Digests returns the digests of the certificates.
func Digests(certs []*types.Certificate) []types.Digest {
	out := make([]types.Digest, 0, len(certs))
	for _, c := range certs {
		out = append(out, c.Digest())
	}
	return out
}

// Certificates creates one certificate per author for every round in [start, stop],
// each linking to all the certificates of the previous round. It returns the
// certificates in round order and the digests of the last round.
func Certificates(start, stop types.Round, epoch types.Epoch, initialParents []types.Digest, authors []string) ([]*types.Certificate, []types.Digest) {
	var certs []*types.Certificate
	parents := initialParents
	for round := start; round <= stop; round++ {
		next := make([]types.Digest, 0, len(authors))
		for _, name := range authors {
			c := Certificate(name, round, epoch, parents)
			certs = append(certs, c)
			next = append(next, c.Digest())
		}
		parents = next
	}
	return certs, parents
}
