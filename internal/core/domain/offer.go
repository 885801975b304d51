package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OfferDirection is the side of the maker: an OfferBuy offer is made by a
// BTC buyer and taken by a seller.
type OfferDirection int

const (
	OfferBuy OfferDirection = iota
	OfferSell
)

func (d OfferDirection) String() string {
	if d == OfferBuy {
		return "BUY"
	}
	return "SELL"
}

// Offer is the subset of an order book offer the protocol engine needs.
type Offer struct {
	Id                    string
	Direction             OfferDirection
	Amount                uint64
	Price                 decimal.Decimal
	BuyerSecurityDeposit  uint64
	SellerSecurityDeposit uint64
	PaymentMethodId       string
	MakerAddress          string
}

// Validate checks the offer is well formed.
func (o Offer) Validate() error {
	if len(o.Id) <= 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidOffer)
	}
	if o.Direction != OfferBuy && o.Direction != OfferSell {
		return fmt.Errorf("%w: unknown direction", ErrInvalidOffer)
	}
	if o.Amount == 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidOffer)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidOffer)
	}
	if o.BuyerSecurityDeposit == 0 || o.SellerSecurityDeposit == 0 {
		return fmt.Errorf("%w: security deposits must be greater than zero", ErrInvalidOffer)
	}
	if len(o.PaymentMethodId) <= 0 {
		return fmt.Errorf("%w: missing payment method", ErrInvalidOffer)
	}
	if len(o.MakerAddress) <= 0 {
		return fmt.Errorf("%w: missing maker address", ErrInvalidOffer)
	}
	return nil
}

// MakerRole returns the role of the maker of the offer.
func (o Offer) MakerRole() Role {
	return NewRole(true, o.Direction == OfferBuy)
}

// TakerRole returns the role of whoever takes the offer.
func (o Offer) TakerRole() Role {
	return o.MakerRole().Peer()
}
