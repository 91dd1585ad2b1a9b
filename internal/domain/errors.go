package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrReplay            = errors.New("request replayed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSigningFailed     = errors.New("signing failed")
	ErrLockHeld          = errors.New("lock already held")

	ErrMarketNotFound   = fmt.Errorf("market %w", ErrNotFound)
	ErrPositionNotFound = fmt.Errorf("position %w", ErrNotFound)
	ErrMarketExists     = fmt.Errorf("market %w", ErrAlreadyExists)
	ErrPositionExists   = fmt.Errorf("position %w", ErrAlreadyExists)
)

// ErrorKind groups market errors by what went wrong.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindEconomic      ErrorKind = "economic"
)

// MarketError is a typed, non-retryable rejection raised by the market core.
// Every guard failure returns one of the sentinels below, compared with
// errors.Is.
type MarketError struct {
	Code    string
	Kind    ErrorKind
	Message string
}

func (e *MarketError) Error() string { return e.Message }

func newMarketError(code string, kind ErrorKind, msg string) *MarketError {
	return &MarketError{Code: code, Kind: kind, Message: msg}
}

var (
	ErrInvalidQuestion       = newMarketError("InvalidQuestion", KindValidation, "Invalid question provided")
	ErrInvalidResolutionTime = newMarketError("InvalidResolutionTime", KindValidation, "Invalid resolution time")
	ErrInvalidAmount         = newMarketError("InvalidAmount", KindValidation, "Invalid amount")

	ErrUnauthorized = newMarketError("Unauthorized", KindAuthorization, "Unauthorized action")

	ErrMarketAlreadyResolved = newMarketError("MarketAlreadyResolved", KindState, "Market already resolved")
	ErrMarketExpired         = newMarketError("MarketExpired", KindState, "Market has expired")
	ErrMarketNotResolved     = newMarketError("MarketNotResolved", KindState, "Market not resolved yet")
	ErrMarketNotExpired      = newMarketError("MarketNotExpired", KindState, "Market resolution time has not passed")
	ErrAlreadyClaimed        = newMarketError("AlreadyClaimed", KindState, "Reward already claimed")

	ErrInsufficientOutput = newMarketError("InsufficientOutput", KindEconomic, "Insufficient output tokens")
	ErrInvalidOutcome     = newMarketError("InvalidOutcome", KindEconomic, "Invalid outcome")
	ErrPredictionLost     = newMarketError("PredictionLost", KindEconomic, "Prediction did not win")
	ErrNoReward           = newMarketError("NoReward", KindEconomic, "No reward available")
	ErrInsufficientFees   = newMarketError("InsufficientFees", KindEconomic, "Insufficient fees collected")
)

// AsMarketError unwraps err into a *MarketError if it carries one.
func AsMarketError(err error) (*MarketError, bool) {
	var me *MarketError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
