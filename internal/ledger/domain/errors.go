package domain

import "fmt"

// LedgerWriteError wraps a store failure with the operation that hit it.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed (%s): %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

func WriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LedgerWriteError{Op: op, Err: err}
}
