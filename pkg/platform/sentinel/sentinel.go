package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// so services can translate them into registration outcomes.
//
// - ErrNotFound: row does not exist (or is not yet visible to this transaction)
// - ErrAlreadyUsed: a unique constraint rejected the write
// - ErrUnavailable: the storage layer timed out, deadlocked or lost the connection
//
// Field-level input problems never reach a store; see the validation package.
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
