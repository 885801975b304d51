package domain

// The payout fee is reserved in the multisig output at deposit time and is
// funded by the taker together with the deposit tx fee. The escrowed value
// is therefore tradeAmount + buyerDeposit + sellerDeposit, while the
// multisig output also carries the payout fee.

// PayoutFee returns the fee paid by the payout tx.
func (t *Trade) PayoutFee() uint64 {
	return t.MinerFee
}

// EscrowAmount returns the value released by the payout to the two parties.
func (t *Trade) EscrowAmount() uint64 {
	return t.Amount + t.BuyerSecurityDeposit + t.SellerSecurityDeposit
}

// MultisigAmount returns the value of the deposit multisig output.
func (t *Trade) MultisigAmount() uint64 {
	return t.EscrowAmount() + t.PayoutFee()
}

// MakerContribution returns the value the maker funds the deposit with.
func (t *Trade) MakerContribution() uint64 {
	makerIsSeller := t.Role.IsMaker() == t.Role.IsSeller()
	return contribution(makerIsSeller, t.Amount, t.SellerSecurityDeposit, t.BuyerSecurityDeposit)
}

// TakerContribution returns the value the taker funds the deposit with: its
// security deposit and both the deposit and payout fees, plus the trade
// amount when selling.
func (t *Trade) TakerContribution() uint64 {
	takerIsSeller := t.Role.IsTaker() == t.Role.IsSeller()
	return contribution(takerIsSeller, t.Amount, t.SellerSecurityDeposit, t.BuyerSecurityDeposit) +
		2*t.MinerFee
}

// OwnContribution returns the value the local party funds the deposit with.
func (t *Trade) OwnContribution() uint64 {
	if t.Role.IsMaker() {
		return t.MakerContribution()
	}
	return t.TakerContribution()
}

// PeerContribution returns the value the counterparty funds the deposit with.
func (t *Trade) PeerContribution() uint64 {
	if t.Role.IsMaker() {
		return t.TakerContribution()
	}
	return t.MakerContribution()
}

// BuyerPayoutAmount returns what the buyer receives from the payout.
func (t *Trade) BuyerPayoutAmount() uint64 {
	return t.Amount + t.BuyerSecurityDeposit
}

// SellerPayoutAmount returns what the seller receives from the payout.
func (t *Trade) SellerPayoutAmount() uint64 {
	return t.SellerSecurityDeposit
}

func contribution(isSeller bool, amount, sellerDeposit, buyerDeposit uint64) uint64 {
	if isSeller {
		return amount + sellerDeposit
	}
	return buyerDeposit
}
