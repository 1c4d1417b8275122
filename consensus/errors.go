package consensus

import "errors"

var (
	// ErrCertificateTooOld is returned by TryInsert for a certificate below
	// its author's last committed round.
	ErrCertificateTooOld = errors.New("certificate is below the last committed round of its author")
	// ErrRequiredOutputClosed is returned when a required consumer is gone.
	ErrRequiredOutputClosed = errors.New("required consensus output closed")
	// ErrReconfigureClosed is returned when the reconfiguration watch is dropped.
	ErrReconfigureClosed = errors.New("reconfiguration channel closed")
	// ErrSinkClosed is returned by a sink whose consumer disconnected.
	ErrSinkClosed = errors.New("sub-dag sink closed")
)
