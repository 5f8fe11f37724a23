package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/evstack/ev-batcher/pkg/converter"
	"github.com/evstack/ev-batcher/pkg/l1provider"
	"github.com/evstack/ev-batcher/pkg/mempool"
	"github.com/evstack/ev-batcher/pkg/telemetry"
	"github.com/evstack/ev-batcher/types"
)

const maxTxRequestSize = 4 << 20

// TxRequest is the JSON body accepted by the transaction endpoints.
type TxRequest struct {
	Kind          string         `json:"kind"`
	Sender        common.Address `json:"sender"`
	Nonce         hexutil.Uint64 `json:"nonce"`
	ClassHash     common.Hash    `json:"class_hash"`
	ContractClass hexutil.Bytes  `json:"contract_class,omitempty"`
	MaxFee        *uint256.Int   `json:"max_fee,omitempty"`
	Calldata      hexutil.Bytes  `json:"calldata"`
}

// TxResponse is returned for an accepted transaction.
type TxResponse struct {
	TxHash common.Hash `json:"tx_hash"`
}

// StatusResponse reports the node's progress.
type StatusResponse struct {
	Height     uint64 `json:"height"`
	MempoolTxs int    `json:"mempool_txs"`
	PendingL1  int    `json:"pending_l1_txs"`
}

func parseTxKind(kind string) (types.TxKind, error) {
	for _, k := range []types.TxKind{types.TxKindInvoke, types.TxKindDeclare, types.TxKindDeployAccount, types.TxKindL1Handler} {
		if k.String() == kind {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction kind %q", kind)
}

func (r TxRequest) consensusTx() (types.ConsensusTransaction, error) {
	kind, err := parseTxKind(r.Kind)
	if err != nil {
		return types.ConsensusTransaction{}, err
	}
	return types.ConsensusTransaction{
		Kind:          kind,
		Sender:        r.Sender,
		Nonce:         uint64(r.Nonce),
		ClassHash:     r.ClassHash,
		ContractClass: r.ContractClass,
		MaxFee:        r.MaxFee,
		Calldata:      r.Calldata,
	}, nil
}

type txConverter interface {
	ConvertConsensusTx(ctx context.Context, tx types.ConsensusTransaction) (types.Transaction, error)
}

type accountTxPool interface {
	AddTx(ctx context.Context, tx types.Transaction) (types.TxHash, error)
	Size() int
}

type l1TxPool interface {
	AddTxs(ctx context.Context, txs []types.Transaction) (int, error)
	PendingCount() int
}

type heightReader interface {
	Height(ctx context.Context) (uint64, error)
}

// ingress accepts transactions over HTTP.
type ingress struct {
	converter txConverter
	mempool   accountTxPool
	l1        l1TxPool
	height    heightReader
	logger    zerolog.Logger
}

func newIngressHandler(ing *ingress) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /tx", telemetry.TraceHTTPHandler("ingress.AddTx", http.HandlerFunc(ing.handleTx)))
	mux.Handle("POST /l1tx", telemetry.TraceHTTPHandler("ingress.AddL1Tx", http.HandlerFunc(ing.handleL1Tx)))
	mux.HandleFunc("GET /status", ing.handleStatus)
	return mux
}

func (i *ingress) decode(w http.ResponseWriter, r *http.Request) (types.ConsensusTransaction, bool) {
	var req TxRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTxRequestSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return types.ConsensusTransaction{}, false
	}
	tx, err := req.consensusTx()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return types.ConsensusTransaction{}, false
	}
	return tx, true
}

func (i *ingress) handleTx(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in, ok := i.decode(w, r)
	if !ok {
		return
	}
	tx, err := i.converter.ConvertConsensusTx(ctx, in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	hash, err := i.mempool.AddTx(ctx, tx)
	if err != nil {
		i.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("transaction refused")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, TxResponse{TxHash: hash})
}

func (i *ingress) handleL1Tx(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in, ok := i.decode(w, r)
	if !ok {
		return
	}
	if in.Kind != types.TxKindL1Handler {
		writeError(w, http.StatusBadRequest, l1provider.ErrNotL1Handler)
		return
	}
	tx := types.Transaction{
		Kind:     in.Kind,
		Sender:   in.Sender,
		Nonce:    in.Nonce,
		MaxFee:   in.MaxFee,
		Calldata: in.Calldata,
	}
	if _, err := i.l1.AddTxs(ctx, []types.Transaction{tx}); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, TxResponse{TxHash: tx.Hash()})
}

func (i *ingress) handleStatus(w http.ResponseWriter, r *http.Request) {
	height, err := i.height.Height(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Height:     height,
		MempoolTxs: i.mempool.Size(),
		PendingL1:  i.l1.PendingCount(),
	})
}

// statusFor maps admission errors to client errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mempool.ErrDuplicateTx),
		errors.Is(err, mempool.ErrNonceTooLow),
		errors.Is(err, mempool.ErrMaxFeeTooLow),
		errors.Is(err, mempool.ErrL1HandlerTx),
		errors.Is(err, l1provider.ErrNotL1Handler),
		errors.Is(err, converter.ErrClassNotFound),
		errors.Is(err, converter.ErrClassHashMismatch),
		errors.Is(err, converter.ErrEmptyClass):
		return http.StatusBadRequest
	case errors.Is(err, mempool.ErrMempoolFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
