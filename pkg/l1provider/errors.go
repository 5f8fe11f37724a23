package l1provider

import "errors"

var (
	// ErrUnexpectedHeight is returned when a call targets another height than
	// the one the provider is at.
	ErrUnexpectedHeight = errors.New("unexpected height")

	// ErrWrongSession is returned when a call does not match the started block session.
	ErrWrongSession = errors.New("wrong session")

	// ErrNotL1Handler is returned when a non L1 handler transaction is added.
	ErrNotL1Handler = errors.New("not an L1 handler transaction")
)
