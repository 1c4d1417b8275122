package types

import (
	"encoding/hex"
	"fmt"
)

// Round is a logical layer of the DAG.
type Round = uint64

// Epoch identifies a committee era.
type Epoch = uint64

// Digest is the content address of a header or certificate.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first bytes of the digest for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:4])
}

// Header is the DAG vertex proposed by an authority in one round.
type Header struct {
	Author    string
	Round     Round
	Epoch     Epoch
	Parents   []Digest // certificates of round-1 this header links to
	Payload   []Digest // batch digests, opaque to consensus
	CreatedAt int64    // unix nano, used for commit latency
}

// Digest hashes the msgpack encoding of the header.
func (h *Header) Digest() Digest {
	encoded, err := Encode(h)
	if err != nil {
		// a Header only holds plain values, encoding cannot fail
		panic(err)
	}
	d, err := genMsgHashSum(encoded)
	if err != nil {
		panic(err)
	}
	return d
}

// HasParent reports whether the header links to the given certificate.
func (h *Header) HasParent(digest Digest) bool {
	for _, p := range h.Parents {
		if p == digest {
			return true
		}
	}
	return false
}

// Certificate is a header attested by a quorum of the committee.
// Signatures are verified before certificates reach consensus.
type Certificate struct {
	Header    Header
	Signature []byte
}

// Digest of a certificate is the digest of its header.
func (c *Certificate) Digest() Digest {
	return c.Header.Digest()
}

func (c *Certificate) Round() Round {
	return c.Header.Round
}

func (c *Certificate) Origin() string {
	return c.Header.Author
}

func (c *Certificate) Epoch() Epoch {
	return c.Header.Epoch
}

func (c *Certificate) CreatedAt() int64 {
	return c.Header.CreatedAt
}

func (c *Certificate) String() string {
	return fmt.Sprintf("C%d(%s, E%d)", c.Round(), c.Origin(), c.Epoch())
}

// Genesis builds the round-0 certificates of a committee, one per authority.
func Genesis(committee *Committee) []*Certificate {
	names := committee.Names()
	genesis := make([]*Certificate, 0, len(names))
	for _, name := range names {
		genesis = append(genesis, &Certificate{
			Header: Header{
				Author: name,
				Round:  0,
				Epoch:  committee.Epoch,
			},
		})
	}
	return genesis
}
