package mempool

import "errors"

var (
	// ErrMempoolFull is returned when the mempool has reached its maximum size.
	ErrMempoolFull = errors.New("mempool is full")

	// ErrDuplicateTx is returned for a transaction that is pending or was
	// recently committed.
	ErrDuplicateTx = errors.New("duplicate transaction")

	// ErrNonceTooLow is returned for a transaction whose nonce was already used.
	ErrNonceTooLow = errors.New("nonce too low")

	// ErrMaxFeeTooLow is returned when a transaction cannot pay the current gas price.
	ErrMaxFeeTooLow = errors.New("max fee below gas price")

	// ErrL1HandlerTx is returned for L1 handler transactions, which enter
	// through the L1 provider.
	ErrL1HandlerTx = errors.New("L1 handler transactions are not accepted by the mempool")
)
