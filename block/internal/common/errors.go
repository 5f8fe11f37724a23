package common

import (
	"errors"
	"fmt"
)

// These errors are returned by the batcher and the block builder.
var (
	// ErrNoActiveHeight is returned when a proposal is requested before
	// StartHeight.
	ErrNoActiveHeight = errors.New("no active height")

	// ErrHeightInProgress is returned when StartHeight is called twice for the
	// same height.
	ErrHeightInProgress = errors.New("height already in progress")

	// ErrStorageHeightMarkerMismatch is returned when a height does not follow
	// the last committed block.
	ErrStorageHeightMarkerMismatch = errors.New("height does not match storage height marker")

	// ErrProposalNotFound is returned for unknown or already finished proposal ids.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrAnotherProposalInProgress is returned when a proposal is still
	// building for the active height.
	ErrAnotherProposalInProgress = errors.New("another proposal is in progress")

	// ErrMissingRetrospectiveBlockHash is returned when a proposer does not
	// supply the hash of an old enough block.
	ErrMissingRetrospectiveBlockHash = errors.New("missing retrospective block hash")

	// ErrExecutedProposalNotFound is returned by DecisionReached when no
	// sealed block exists for the proposal.
	ErrExecutedProposalNotFound = errors.New("executed proposal not found")

	// ErrNotReady is returned when a collaborator cannot serve the height yet.
	ErrNotReady = errors.New("not ready")

	// ErrInternal wraps unexpected collaborator failures.
	ErrInternal = errors.New("internal error")

	// ErrBlockBuildAborted is returned when a build is aborted before sealing.
	ErrBlockBuildAborted = errors.New("block build aborted")

	// ErrProposalFailed is returned when a build ended with an error.
	ErrProposalFailed = errors.New("proposal failed")

	// ErrFailOnError matches every *FailOnError.
	ErrFailOnError = errors.New("block build failed")
)

// FailOnErrorCause is the reason a validator build was rejected.
type FailOnErrorCause string

const (
	CauseBlockFull                            FailOnErrorCause = "block_full"
	CauseDeadlineReached                      FailOnErrorCause = "deadline_reached"
	CauseL1HandlerTransactionValidationFailed FailOnErrorCause = "l1_handler_transaction_validation_failed"
	CauseTransactionFailed                    FailOnErrorCause = "transaction_failed"
)

// FailOnError is a build failure that makes the proposal invalid.
type FailOnError struct {
	Cause FailOnErrorCause
	Err   error
}

func (e *FailOnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("block build failed: %s", e.Cause)
	}
	return fmt.Sprintf("block build failed: %s: %v", e.Cause, e.Err)
}

func (e *FailOnError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFailOnError) match any cause.
func (e *FailOnError) Is(target error) bool {
	return target == ErrFailOnError
}

// NewFailOnError returns a *FailOnError for cause.
func NewFailOnError(cause FailOnErrorCause, err error) *FailOnError {
	return &FailOnError{Cause: cause, Err: err}
}
