package svm

import (
	"context"
	"errors"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"escrow/offchain/internal/models"
)

// Custom error codes the escrow program raises (Anchor user errors start at 6000)
const (
	ProgramErrorEscrowExpired uint64 = 6000
	ProgramErrorNotMutable    uint64 = 6001
	ProgramErrorInvalidAmount uint64 = 6002
)

// Framework error codes Anchor raises before program logic runs
const (
	anchorAccountNotInitialized    uint64 = 3012
	anchorAccountDiscriminatorMiss uint64 = 3001
)

// SPL token program error for insufficient balance
const splTokenInsufficientFunds uint64 = 1

// JSON-RPC code for a preflight simulation failure
const rpcSendTransactionPreflightFailure = -32002

// transaction-level error variants that mean the payer is short
var insufficientFundsErrors = map[string]bool{
	"InsufficientFundsForFee":  true,
	"InsufficientFundsForRent": true,
}

// ClassifyTransactionError maps a transaction error reported by the cluster
// (simulation or confirmed status) to an error kind. isEscrowInstruction
// tells whether the instruction at an index targets the escrow program, so
// token-program and escrow-program codes can be told apart; nil assumes it
// does.
func ClassifyTransactionError(txErr interface{}, isEscrowInstruction func(index int) bool) models.ErrorKind {
	switch v := txErr.(type) {
	case string:
		if insufficientFundsErrors[v] {
			return models.ErrorKindInsufficientFunds
		}
		if v == "AccountNotFound" {
			return models.ErrorKindInsufficientFunds
		}
	case map[string]interface{}:
		if raw, ok := v["InstructionError"]; ok {
			return classifyInstructionError(raw, isEscrowInstruction)
		}
		for key := range v {
			if insufficientFundsErrors[key] {
				return models.ErrorKindInsufficientFunds
			}
		}
	}
	return models.ErrorKindUnclassified
}

// classifyInstructionError handles the [index, detail] pair of an
// InstructionError, where detail is a string variant or {"Custom": code}.
func classifyInstructionError(raw interface{}, isEscrowInstruction func(index int) bool) models.ErrorKind {
	pair, ok := raw.([]interface{})
	if !ok || len(pair) != 2 {
		return models.ErrorKindUnclassified
	}
	index, _ := pair[0].(float64)

	switch detail := pair[1].(type) {
	case string:
		if detail == "InsufficientFunds" {
			return models.ErrorKindInsufficientFunds
		}
	case map[string]interface{}:
		code, ok := detail["Custom"].(float64)
		if !ok {
			return models.ErrorKindUnclassified
		}
		escrowIx := isEscrowInstruction == nil || isEscrowInstruction(int(index))
		return classifyCustomCode(uint64(code), escrowIx)
	}
	return models.ErrorKindUnclassified
}

func classifyCustomCode(code uint64, escrowInstruction bool) models.ErrorKind {
	if !escrowInstruction {
		if code == splTokenInsufficientFunds {
			return models.ErrorKindInsufficientFunds
		}
		return models.ErrorKindUnclassified
	}
	switch code {
	case ProgramErrorEscrowExpired:
		return models.ErrorKindEscrowExpired
	case anchorAccountNotInitialized, anchorAccountDiscriminatorMiss:
		return models.ErrorKindAlreadyTaken
	case splTokenInsufficientFunds:
		// token CPI failures surface under the escrow instruction index
		return models.ErrorKindInsufficientFunds
	}
	return models.ErrorKindUnclassified
}

// classifyRPCError turns an error from the RPC client into a *models.TxError.
// Preflight failures carry the simulated transaction error in their data.
func classifyRPCError(err error, isEscrowInstruction func(index int) bool) *models.TxError {
	if err == nil {
		return nil
	}

	var txErr *models.TxError
	if errors.As(err, &txErr) {
		return txErr
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == rpcSendTransactionPreflightFailure {
		if data, ok := rpcErr.Data.(map[string]interface{}); ok {
			if kind := ClassifyTransactionError(data["err"], isEscrowInstruction); kind != models.ErrorKindUnclassified {
				return models.NewTxError(kind, err)
			}
			if kind := classifyLogs(data["logs"]); kind != models.ErrorKindUnclassified {
				return models.NewTxError(kind, err)
			}
		}
		return models.NewTxError(models.ErrorKindUnclassified, errors.New(rpcErr.Message))
	}

	if errors.Is(err, rpc.ErrNotFound) {
		return models.NewTxError(models.ErrorKindAlreadyTaken, err)
	}

	return models.NewTxError(models.ErrorKindUnclassified, err)
}

// classifyLogs inspects program logs for the system program's
// insufficient-lamports message, which carries no structured code.
func classifyLogs(raw interface{}) models.ErrorKind {
	logs, ok := raw.([]interface{})
	if !ok {
		return models.ErrorKindUnclassified
	}
	for _, l := range logs {
		line, _ := l.(string)
		if strings.Contains(line, "insufficient lamports") {
			return models.ErrorKindInsufficientFunds
		}
	}
	return models.ErrorKindUnclassified
}

// isContextError reports whether err comes from ctx cancellation
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
