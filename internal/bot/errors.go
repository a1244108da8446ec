package bot

import "errors"

var (
	ErrInvalidPrice        = errors.New("invalid or unavailable price")
	ErrInvalidSize         = errors.New("invalid position size")
	ErrInvalidSide         = errors.New("invalid trade side")
	ErrPairBusy            = errors.New("pair already has an open trade")
	ErrConcurrencyLimit    = errors.New("max concurrent trades reached")
	ErrMissingCredentials  = errors.New("live trading requested without exchange credentials")
	ErrInsufficientBalance = errors.New("insufficient reference asset balance")
	ErrTradeNotFound       = errors.New("open trade not found")
	ErrAlreadyRunning      = errors.New("engine already running")
	ErrNotRunning          = errors.New("engine not running")
	ErrTradingDisabled     = errors.New("auto-trading is disabled")
	ErrWhaleIgnored        = errors.New("whale alert was ignored")
)
