package domain

import "errors"

var (
	// ErrInvalidOffer is returned when an offer is malformed.
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrInvalidRole ...
	ErrInvalidRole = errors.New("invalid trade role")
	// ErrStateRegression is returned when moving a trade to a state with a
	// lower ordinal than the current one.
	ErrStateRegression = errors.New("trade state must not go backward")
	// ErrTradeClosed is returned when mutating a trade in a terminal state or
	// whose offer has been reopened.
	ErrTradeClosed = errors.New("trade is closed")
	// ErrFundsCommitted is returned when reopening the offer of a trade whose
	// deposit has already been published.
	ErrFundsCommitted = errors.New("trade funds are already committed")
	// ErrMissingProtocolData is returned when a phase boundary is crossed
	// without the data it requires.
	ErrMissingProtocolData = errors.New("missing protocol data")
	// ErrFieldAlreadySet is returned when overwriting a set-once field with a
	// different value.
	ErrFieldAlreadySet = errors.New("field is already set")
	// ErrTradeIdMismatch is returned when a message is addressed to another
	// trade.
	ErrTradeIdMismatch = errors.New("message trade id doesn't match")
	// ErrMalformedMessage is returned when a message misses required fields.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrProtocolViolation marks misbehaviour of the counterparty, like a
	// tampered deposit tx. The trade is failed and nothing is signed.
	ErrProtocolViolation = errors.New("counterparty protocol violation")
	// ErrDepositNotPublished ...
	ErrDepositNotPublished = errors.New("trade deposit is not published")
	// ErrTradeNotPayoutConfirmed ...
	ErrTradeNotPayoutConfirmed = errors.New("trade payout is not confirmed")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeAlreadyExists ...
	ErrTradeAlreadyExists = errors.New("trade already exists")
)
