package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Infrastructure sentinels used by stores, caches and blob storage.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrContextDone    = errors.New("context cancelled")
	ErrLockHeld       = errors.New("lock already held")
	ErrDigestMismatch = errors.New("metadata digest mismatch")
)

// ErrorKind classifies protocol failures.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindState
	KindAuthorization
	KindTransfer
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Arg is one structured argument attached to a protocol error.
type Arg struct {
	Key   string
	Value any
}

// Error is a protocol error: a stable code, its kind and the arguments that
// explain the failure (which amount was too low, which id was missing).
// errors.Is matches two Errors by code, so callers compare against the
// exported sentinels regardless of attached arguments.
type Error struct {
	Kind ErrorKind
	Code string
	Args []Arg
}

func newError(kind ErrorKind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Error renders the error as Code(key=value, ...).
func (e *Error) Error() string {
	if len(e.Args) == 0 {
		return e.Code
	}
	parts := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		parts = append(parts, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	return e.Code + "(" + strings.Join(parts, ", ") + ")"
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// With returns a copy of e carrying the given key/value pairs. Keys must be
// strings; a trailing key without a value is recorded with a nil value.
func (e *Error) With(kv ...any) *Error {
	out := &Error{Kind: e.Kind, Code: e.Code, Args: make([]Arg, len(e.Args), len(e.Args)+len(kv)/2)}
	copy(out.Args, e.Args)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		out.Args = append(out.Args, Arg{Key: key, Value: val})
	}
	return out
}

// Arg returns the value recorded under key.
func (e *Error) Arg(key string) (any, bool) {
	for _, a := range e.Args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// ArgMap returns the arguments as a map of string values, for transport.
func (e *Error) ArgMap() map[string]string {
	out := make(map[string]string, len(e.Args))
	for _, a := range e.Args {
		out[a.Key] = fmt.Sprint(a.Value)
	}
	return out
}

// KindOf extracts the protocol error kind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf extracts the protocol error code from err, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Validation errors.
var (
	ErrInvalidAddress      = newError(KindValidation, "InvalidAddress")
	ErrZeroAmount          = newError(KindValidation, "ZeroAmount")
	ErrInvalidTimeWindow   = newError(KindValidation, "InvalidTimeWindow")
	ErrInvalidSaleType     = newError(KindValidation, "InvalidSaleType")
	ErrEmptyMetadata       = newError(KindValidation, "EmptyMetadata")
	ErrInvalidPrice        = newError(KindValidation, "InvalidPrice")
	ErrFeeTooHigh          = newError(KindValidation, "FeeTooHigh")
	ErrInvalidTicketCount  = newError(KindValidation, "InvalidTicketCount")
	ErrInvalidRaffleParams = newError(KindValidation, "InvalidRaffleParams")
	ErrInvalidCommitment   = newError(KindValidation, "InvalidCommitment")
	ErrIncorrectPayment    = newError(KindValidation, "IncorrectPayment")
	ErrBidTooLow           = newError(KindValidation, "BidTooLow")
)

// State errors.
var (
	ErrListingNotFound      = newError(KindState, "ListingNotFound")
	ErrInvalidListingStatus = newError(KindState, "InvalidListingStatus")
	ErrWrongSaleType        = newError(KindState, "WrongSaleType")
	ErrModuleAlreadyOpened  = newError(KindState, "ModuleAlreadyOpened")
	ErrModuleNotOpened      = newError(KindState, "ModuleNotOpened")
	ErrEscrowExists         = newError(KindState, "EscrowExists")
	ErrEscrowNotFound       = newError(KindState, "EscrowNotFound")
	ErrEscrowNotFunded      = newError(KindState, "EscrowNotFunded")
	ErrAuctionExists        = newError(KindState, "AuctionExists")
	ErrAuctionNotFound      = newError(KindState, "AuctionNotFound")
	ErrAuctionNotActive     = newError(KindState, "AuctionNotActive")
	ErrAuctionNotStarted    = newError(KindState, "AuctionNotStarted")
	ErrAuctionEnded         = newError(KindState, "AuctionEnded")
	ErrAuctionNotEnded      = newError(KindState, "AuctionNotEnded")
	ErrAuctionNotClosed     = newError(KindState, "AuctionNotClosed")
	ErrRaffleExists         = newError(KindState, "RaffleExists")
	ErrRaffleNotFound       = newError(KindState, "RaffleNotFound")
	ErrRaffleClosed         = newError(KindState, "RaffleClosed")
	ErrRaffleNotOpen        = newError(KindState, "RaffleNotOpen")
	ErrRaffleNotClosable    = newError(KindState, "RaffleNotClosable")
	ErrRaffleNotSuccessful  = newError(KindState, "RaffleNotSuccessful")
	ErrRaffleNotRefundable  = newError(KindState, "RaffleNotRefundable")
	ErrAlreadyClaimed       = newError(KindState, "AlreadyClaimed")
	ErrNothingToWithdraw    = newError(KindState, "NothingToWithdraw")
	ErrCommitmentMismatch   = newError(KindState, "CommitmentMismatch")
	ErrReentrantCall        = newError(KindState, "ReentrantCall")
	ErrUnknownToken         = newError(KindState, "UnknownToken")
)

// Authorization errors.
var (
	ErrNotController   = newError(KindAuthorization, "NotController")
	ErrNotSeller       = newError(KindAuthorization, "NotSeller")
	ErrNotBuyer        = newError(KindAuthorization, "NotBuyer")
	ErrNotArbiter      = newError(KindAuthorization, "NotArbiter")
	ErrNotOwner        = newError(KindAuthorization, "NotOwner")
	ErrNotFeeRecipient = newError(KindAuthorization, "NotFeeRecipient")
)

// Transfer errors.
var (
	ErrInsufficientBalance   = newError(KindTransfer, "InsufficientBalance")
	ErrInsufficientAllowance = newError(KindTransfer, "InsufficientAllowance")
	ErrTransferFailed        = newError(KindTransfer, "TransferFailed")
)
