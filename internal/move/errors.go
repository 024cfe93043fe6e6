package move

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the source does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrConflictExists is returned when the destination is occupied and
	// the policy does not allow replacing it.
	ErrConflictExists = errors.New("destination already exists")
	// ErrRecursionNotPermitted is returned for a directory move without
	// the recursive option.
	ErrRecursionNotPermitted = errors.New("directory move requires the recursive option")
	// ErrDirectoryRequiresRecursiveFlag is an alias of ErrRecursionNotPermitted.
	ErrDirectoryRequiresRecursiveFlag = ErrRecursionNotPermitted
	// ErrIntoItself is returned when a directory would move into its own subtree.
	ErrIntoItself = errors.New("cannot move a directory into itself")
	// ErrSameLocation is returned when source and destination are equal.
	ErrSameLocation = errors.New("source and destination are the same")
	// ErrDestinationNotDirectory is returned when several sources share a
	// destination that is not a directory.
	ErrDestinationNotDirectory = errors.New("destination is not a directory")
	// ErrDeclined is returned when an interactive prompt is answered no.
	ErrDeclined = errors.New("overwrite declined")
)

// OpError records a failed operation and the paths involved.
type OpError struct {
	Op          string // "plan" or "move"
	Source      string
	Destination string
	Err         error
}

func (e *OpError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Source, e.Destination, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, o Operation, err error) *OpError {
	return &OpError{Op: op, Source: o.Source, Destination: o.Destination, Err: err}
}
