package types

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"go.dedis.ch/kyber/v3"
)

// Stake is the voting weight of an authority.
type Stake = uint64

// Authority is one member of a committee.
type Authority struct {
	Stake     Stake
	PublicKey kyber.Point
	Address   string // host:port of the authority's primary
}

// Committee is the authority set valid for one epoch.
// A committee is never mutated after construction; reconfiguration swaps it wholesale.
type Committee struct {
	Epoch       Epoch
	Authorities map[string]Authority // map from name to authority
}

// NewCommittee creates a committee for the given epoch.
func NewCommittee(epoch Epoch, authorities map[string]Authority) *Committee {
	return &Committee{
		Epoch:       epoch,
		Authorities: authorities,
	}
}

// Size returns the number of authorities.
func (c *Committee) Size() int {
	return len(c.Authorities)
}

// Stake returns the stake of the named authority, zero when unknown.
func (c *Committee) Stake(name string) Stake {
	return c.Authorities[name].Stake
}

func (c *Committee) TotalStake() Stake {
	var total Stake
	for _, a := range c.Authorities {
		total += a.Stake
	}
	return total
}

// QuorumThreshold returns the stake needed for 2f+1.
func (c *Committee) QuorumThreshold() Stake {
	return 2*c.TotalStake()/3 + 1
}

// ValidityThreshold returns the stake needed for f+1.
func (c *Committee) ValidityThreshold() Stake {
	return (c.TotalStake() + 2) / 3
}

// Names returns the authority names in ascending order.
func (c *Committee) Names() []string {
	names := make([]string, 0, len(c.Authorities))
	for name := range c.Authorities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Leader picks the leader of a round round-robin over the sorted names.
func (c *Committee) Leader(round Round) string {
	names := c.Names()
	if len(names) == 0 {
		return ""
	}
	return names[round%uint64(len(names))]
}

// PublicKeyHex returns the hex encoding of an authority's key.
func (c *Committee) PublicKeyHex(name string) (string, error) {
	a, ok := c.Authorities[name]
	if !ok || a.PublicKey == nil {
		return "", fmt.Errorf("authority %s has no public key", name)
	}
	b, err := a.PublicKey.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (c *Committee) String() string {
	parts := make([]string, 0, c.Size())
	for _, name := range c.Names() {
		parts = append(parts, fmt.Sprintf("%s:%d", name, c.Stake(name)))
	}
	return fmt.Sprintf("Committee E%d [%s]", c.Epoch, strings.Join(parts, ", "))
}

// DecodePublicKey parses a hex encoded kyber point.
func DecodePublicKey(s string) (kyber.Point, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	p := Suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
