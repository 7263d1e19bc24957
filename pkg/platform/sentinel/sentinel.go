package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: a uniqueness or compare-and-swap precondition failed
//   - ErrInsufficientInventory: fewer tickets available than requested; nothing claimed
//   - ErrInvalidState: row is in the wrong lifecycle state for the operation
//   - ErrUnavailable: backing store temporarily unavailable
var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidState          = errors.New("invalid state")
	ErrUnavailable           = errors.New("unavailable")
)
