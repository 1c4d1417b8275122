package types

// SequencedCertificate is a committed certificate tagged with its global position.
type SequencedCertificate struct {
	Certificate    *Certificate
	ConsensusIndex uint64
}

// CommittedSubDag is the ordered causal history of one committed leader.
// It is immutable once produced by the ordering protocol.
type CommittedSubDag struct {
	Leader       *Certificate
	Certificates []SequencedCertificate
}

// Len returns the number of certificates in the sub-dag.
func (s *CommittedSubDag) Len() int {
	return len(s.Certificates)
}

// LeaderRound returns the round of the leader that anchored the commit.
func (s *CommittedSubDag) LeaderRound() Round {
	if s.Leader == nil {
		return 0
	}
	return s.Leader.Round()
}

// CommittedCertificates is reported to the primary after each local commit.
type CommittedCertificates struct {
	Round        Round
	Certificates []*Certificate
}

// NotificationKind distinguishes reconfiguration notices.
type NotificationKind uint8

const (
	NewEpoch NotificationKind = iota
	UpdateCommittee
	Shutdown
)

func (k NotificationKind) String() string {
	switch k {
	case NewEpoch:
		return "NewEpoch"
	case UpdateCommittee:
		return "UpdateCommittee"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ReconfigureNotification is published on the reconfiguration watch.
// Committee is nil for Shutdown.
type ReconfigureNotification struct {
	Kind      NotificationKind
	Committee *Committee
}
