package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an action failed
type ErrorKind string

const (
	ErrorKindUserRejected        ErrorKind = "UserRejected"
	ErrorKindInsufficientFunds   ErrorKind = "InsufficientFunds"
	ErrorKindEscrowExpired       ErrorKind = "EscrowExpired"
	ErrorKindAlreadyTaken        ErrorKind = "AlreadyTaken"
	ErrorKindWalletNotReady      ErrorKind = "WalletNotReady"
	ErrorKindConfirmationTimeout ErrorKind = "ConfirmationTimeout"
	ErrorKindUnclassified        ErrorKind = "Unclassified"
)

var kindMessages = map[ErrorKind]string{
	ErrorKindUserRejected:        "Transaction was cancelled",
	ErrorKindInsufficientFunds:   "Insufficient funds for transaction",
	ErrorKindEscrowExpired:       "Escrow has expired",
	ErrorKindAlreadyTaken:        "Escrow has already been taken",
	ErrorKindWalletNotReady:      "Wallet not connected",
	ErrorKindConfirmationTimeout: "Transaction confirmation timed out",
}

// TxError is a classified action failure. Message is what a user sees.
type TxError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *TxError) Error() string {
	if e.Err != nil && e.Kind != ErrorKindUnclassified {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TxError) Unwrap() error { return e.Err }

// Is matches another *TxError of the same kind
func (e *TxError) Is(target error) bool {
	t, ok := target.(*TxError)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// NewTxError builds a TxError with the standard message for kind.
// Unclassified errors carry the raw message of err.
func NewTxError(kind ErrorKind, err error) *TxError {
	msg, ok := kindMessages[kind]
	if !ok {
		kind = ErrorKindUnclassified
		msg = "Transaction failed"
		if err != nil && err.Error() != "" {
			msg = err.Error()
		}
	}
	return &TxError{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first TxError in err's chain, or
// Unclassified.
func KindOf(err error) ErrorKind {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.Kind
	}
	return ErrorKindUnclassified
}

// AsTxError returns the TxError in err's chain, classifying err as
// Unclassified if there is none.
func AsTxError(err error) *TxError {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr
	}
	return NewTxError(ErrorKindUnclassified, err)
}

// Sentinels usable with errors.Is for kind checks.
var (
	ErrUserRejected        = &TxError{Kind: ErrorKindUserRejected}
	ErrInsufficientFunds   = &TxError{Kind: ErrorKindInsufficientFunds}
	ErrEscrowExpired       = &TxError{Kind: ErrorKindEscrowExpired}
	ErrAlreadyTaken        = &TxError{Kind: ErrorKindAlreadyTaken}
	ErrWalletNotReady      = &TxError{Kind: ErrorKindWalletNotReady}
	ErrConfirmationTimeout = &TxError{Kind: ErrorKindConfirmationTimeout}
)
