package importer

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceParse    = errors.New("source could not be parsed")
	ErrReplaceAborted = errors.New("replace aborted, no changes applied")
	ErrUnknownMode    = errors.New("unknown reconciliation mode")
)

// RowWriteError is a single worker that failed to persist.
type RowWriteError struct {
	ID  string
	Err error
}

func (e *RowWriteError) Error() string {
	return fmt.Sprintf("worker %q: %v", e.ID, e.Err)
}

func (e *RowWriteError) Unwrap() error {
	return e.Err
}
