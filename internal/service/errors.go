package service

import (
	"errors"
	"fmt"

	"github.com/rongwang/fundchain-server/internal/metrics"
)

// Kind groups error codes by how a caller should react to them
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidationRejected
	KindForbidden
	KindInvalid
	KindGatewayFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidationRejected:
		return "validation_rejected"
	case KindForbidden:
		return "forbidden"
	case KindInvalid:
		return "invalid"
	case KindGatewayFailure:
		return "gateway_failure"
	default:
		return "internal"
	}
}

// Code is a stable reason code clients can branch on
type Code string

const (
	CodeNotFound                 Code = "NOT_FOUND"
	CodeTransactionNotFound      Code = "TRANSACTION_NOT_FOUND"
	CodeOrganizationMissing      Code = "ORGANIZATION_MISSING"
	CodeProjectMissing           Code = "PROJECT_MISSING"
	CodeWalletMissing            Code = "WALLET_MISSING"
	CodeDuplicatePendingDeposit  Code = "DUPLICATE_PENDING_DEPOSIT"
	CodeDuplicatePendingWithdraw Code = "DUPLICATE_PENDING_WITHDRAW"
	CodeAlreadyApproved          Code = "ALREADY_APPROVED"
	CodeAlreadyMinted            Code = "ALREADY_MINTED"
	CodeAlreadyBurned            Code = "ALREADY_BURNED"
	CodeNotApproved              Code = "NOT_APPROVED"
	CodeNotApprovedYet           Code = "NOT_APPROVED_YET"
	CodeCannotDeleteMinted       Code = "CANNOT_DELETE_MINTED"
	CodeCannotDeleteApproved     Code = "CANNOT_DELETE_APPROVED"
	CodeWalletExists             Code = "WALLET_EXISTS"
	CodeNotOwner                 Code = "NOT_OWNER"
	CodeTransactionPending       Code = "TRANSACTION_PENDING"
	CodeCompanionIDMissing       Code = "COMPANION_ID_MISSING"
	CodeUnknownTransactionType   Code = "UNKNOWN_TRANSACTION_TYPE"
	CodeInvalidAmount            Code = "INVALID_AMOUNT"
	CodeInvalidRequest           Code = "INVALID_REQUEST"
	CodeProjectNotActive         Code = "PROJECT_NOT_ACTIVE"
	CodeProjectExpired           Code = "PROJECT_EXPIRED"
	CodeAboveMaxPerUser          Code = "ABOVE_MAX_PER_USER"
	CodeBelowMinPerUser          Code = "BELOW_MIN_PER_USER"
	CodeCurrencyMismatch         Code = "CURRENCY_MISMATCH"
	CodeFundingCapReached        Code = "FUNDING_CAP_REACHED"
	CodePerUserCapReached        Code = "PER_USER_CAP_REACHED"
	CodeInsufficientFunds        Code = "INSUFFICIENT_FUNDS"
	CodeGatewayFailure           Code = "GATEWAY_FAILURE"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// Error is a business error carrying a kind and a reason code.
// Two errors match with errors.Is when their codes are equal.
type Error struct {
	Kind   Kind
	Code   Code
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrNotFound                 = &Error{Kind: KindNotFound, Code: CodeNotFound}
	ErrTransactionNotFound      = &Error{Kind: KindNotFound, Code: CodeTransactionNotFound}
	ErrOrganizationMissing      = &Error{Kind: KindNotFound, Code: CodeOrganizationMissing}
	ErrProjectMissing           = &Error{Kind: KindNotFound, Code: CodeProjectMissing}
	ErrWalletMissing            = &Error{Kind: KindConflict, Code: CodeWalletMissing}
	ErrDuplicatePendingDeposit  = &Error{Kind: KindConflict, Code: CodeDuplicatePendingDeposit}
	ErrDuplicatePendingWithdraw = &Error{Kind: KindConflict, Code: CodeDuplicatePendingWithdraw}
	ErrAlreadyApproved          = &Error{Kind: KindConflict, Code: CodeAlreadyApproved}
	ErrAlreadyMinted            = &Error{Kind: KindConflict, Code: CodeAlreadyMinted}
	ErrAlreadyBurned            = &Error{Kind: KindConflict, Code: CodeAlreadyBurned}
	ErrNotApproved              = &Error{Kind: KindConflict, Code: CodeNotApproved}
	ErrNotApprovedYet           = &Error{Kind: KindConflict, Code: CodeNotApprovedYet}
	ErrCannotDeleteMinted       = &Error{Kind: KindConflict, Code: CodeCannotDeleteMinted}
	ErrCannotDeleteApproved     = &Error{Kind: KindConflict, Code: CodeCannotDeleteApproved}
	ErrWalletExists             = &Error{Kind: KindConflict, Code: CodeWalletExists}
	ErrNotOwner                 = &Error{Kind: KindForbidden, Code: CodeNotOwner}
	ErrTransactionPending       = &Error{Kind: KindConflict, Code: CodeTransactionPending}
	ErrCompanionIDMissing       = &Error{Kind: KindInvalid, Code: CodeCompanionIDMissing}
	ErrUnknownTransactionType   = &Error{Kind: KindInvalid, Code: CodeUnknownTransactionType}
	ErrInvalidAmount            = &Error{Kind: KindInvalid, Code: CodeInvalidAmount}
	ErrInvalidRequest           = &Error{Kind: KindInvalid, Code: CodeInvalidRequest}
	ErrGatewayFailure           = &Error{Kind: KindGatewayFailure, Code: CodeGatewayFailure}
)

// withDetail returns a copy of a sentinel carrying a detail message
func withDetail(sentinel *Error, format string, args ...interface{}) *Error {
	e := *sentinel
	e.Detail = fmt.Sprintf(format, args...)
	return &e
}

// gatewayFailure wraps an error returned by the blockchain gateway
func gatewayFailure(op string, err error) *Error {
	return &Error{Kind: KindGatewayFailure, Code: CodeGatewayFailure, Detail: op, Err: err}
}

// rejected builds the error for a business rule rejection
func rejected(code Code, detail string) *Error {
	metrics.Rejection(string(code))
	return &Error{Kind: KindValidationRejected, Code: code, Detail: detail}
}

// KindOf returns the kind of err, KindInternal for errors outside the taxonomy
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the reason code of err, CodeInternal for errors outside the taxonomy
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
