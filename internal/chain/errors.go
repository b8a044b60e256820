package chain

import "errors"

var (
	// ErrSerialization matches any *SerializationError via errors.Is.
	ErrSerialization = errors.New("chain: payload is not canonically serializable")

	// ErrStore matches any *StoreError via errors.Is.
	ErrStore = errors.New("chain: ledger store failure")
)

// SerializationError reports a payload that cannot be canonically encoded.
// Append fails with it before touching the store.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string { return "serialize payload: " + e.Err.Error() }

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// StoreError wraps a failure of the underlying Ledger Store. Op names the
// step that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
