package domain

import "errors"

var (
	// ErrTradeStateRegression is thrown when a transition would move a trade
	// to a lower-ordinal state. States only progress forward, failure excepted.
	ErrTradeStateRegression = errors.New("trade state would regress")
	// ErrTradeAlreadyClosed ...
	ErrTradeAlreadyClosed = errors.New("trade is already closed")
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrOfferInvalidAmount ...
	ErrOfferInvalidAmount = errors.New("offer amount must be positive")
	// ErrOfferInvalidPrice ...
	ErrOfferInvalidPrice = errors.New("offer price must be a positive decimal")
	// ErrOfferMissingOwnerKey ...
	ErrOfferMissingOwnerKey = errors.New("offer owner public key must not be empty")
	// ErrOfferMissingMakerAddress ...
	ErrOfferMissingMakerAddress = errors.New("offer maker address must not be empty")
	// ErrOfferNotFound ...
	ErrOfferNotFound = errors.New("offer not found")
)
