package domain

// TradeState is the fine grained state of a trade. States are ordered by
// declaration and a trade never moves to a state with a lower ordinal,
// except when its offer is reopened.
type TradeState int

const (
	StateOfferOpen TradeState = iota
	StatePreparation
	StateTakerSentDepositInputsRequest
	StateMakerReceivedDepositInputsRequest
	StateMakerSentPreparedDepositTx
	StateTakerReceivedPreparedDepositTx
	StateDepositPublished
	StateDepositConfirmed
	StateBuyerSentPayoutRequest
	StateSellerReceivedPayoutRequest
	StatePayoutPublished
	StatePayoutConfirmed
	StateWithdrawn
	StateFailed
)

var stateToString = map[TradeState]string{
	StateOfferOpen:                         "OFFER_OPEN",
	StatePreparation:                       "PREPARATION",
	StateTakerSentDepositInputsRequest:     "TAKER_SENT_DEPOSIT_INPUTS_REQUEST",
	StateMakerReceivedDepositInputsRequest: "MAKER_RECEIVED_DEPOSIT_INPUTS_REQUEST",
	StateMakerSentPreparedDepositTx:        "MAKER_SENT_PREPARED_DEPOSIT_TX",
	StateTakerReceivedPreparedDepositTx:    "TAKER_RECEIVED_PREPARED_DEPOSIT_TX",
	StateDepositPublished:                  "DEPOSIT_PUBLISHED",
	StateDepositConfirmed:                  "DEPOSIT_CONFIRMED",
	StateBuyerSentPayoutRequest:            "BUYER_SENT_PAYOUT_REQUEST",
	StateSellerReceivedPayoutRequest:       "SELLER_RECEIVED_PAYOUT_REQUEST",
	StatePayoutPublished:                   "PAYOUT_PUBLISHED",
	StatePayoutConfirmed:                   "PAYOUT_CONFIRMED",
	StateWithdrawn:                         "WITHDRAWN",
	StateFailed:                            "FAILED",
}

func (s TradeState) String() string {
	str, ok := stateToString[s]
	if !ok {
		return "UNKNOWN"
	}
	return str
}

// Phase returns the coarse projection of the state.
func (s TradeState) Phase() TradePhase {
	switch s {
	case StateOfferOpen:
		return PhaseOfferOpen
	case StatePreparation,
		StateTakerSentDepositInputsRequest,
		StateMakerReceivedDepositInputsRequest:
		return PhasePreparation
	case StateMakerSentPreparedDepositTx, StateTakerReceivedPreparedDepositTx:
		return PhaseDepositTxArranged
	case StateDepositPublished:
		return PhaseDepositPublished
	case StateDepositConfirmed:
		return PhaseDepositConfirmed
	case StateBuyerSentPayoutRequest, StateSellerReceivedPayoutRequest:
		return PhasePaymentSent
	case StatePayoutPublished:
		return PhasePayoutPublished
	case StatePayoutConfirmed:
		return PhaseCompleted
	case StateWithdrawn:
		return PhaseWithdrawn
	default:
		return PhaseFailed
	}
}

// IsTerminal returns whether no task sequence can follow the state.
func (s TradeState) IsTerminal() bool {
	return s >= StatePayoutConfirmed
}

// TradePhase is a coarse-grained, monotonic progress indicator.
type TradePhase int

const (
	PhaseOfferOpen TradePhase = iota
	PhasePreparation
	PhaseDepositTxArranged
	PhaseDepositPublished
	PhaseDepositConfirmed
	PhasePaymentSent
	PhasePayoutPublished
	PhaseCompleted
	PhaseWithdrawn
	PhaseFailed
)

var phaseToString = map[TradePhase]string{
	PhaseOfferOpen:         "OFFER_OPEN",
	PhasePreparation:       "PREPARATION",
	PhaseDepositTxArranged: "DEPOSIT_TX_ARRANGED",
	PhaseDepositPublished:  "DEPOSIT_PUBLISHED",
	PhaseDepositConfirmed:  "DEPOSIT_CONFIRMED",
	PhasePaymentSent:       "PAYMENT_SENT",
	PhasePayoutPublished:   "PAYOUT_PUBLISHED",
	PhaseCompleted:         "COMPLETED",
	PhaseWithdrawn:         "WITHDRAWN",
	PhaseFailed:            "FAILED",
}

func (p TradePhase) String() string {
	str, ok := phaseToString[p]
	if !ok {
		return "UNKNOWN"
	}
	return str
}

// DisputeState is the dispute sub-state of a trade. Resolution logic lives
// outside of the protocol engine.
type DisputeState int

const (
	DisputeNone DisputeState = iota
	DisputeOpened
	DisputeClosed
)

func (d DisputeState) String() string {
	switch d {
	case DisputeOpened:
		return "DISPUTE_OPENED"
	case DisputeClosed:
		return "DISPUTE_CLOSED"
	default:
		return "NO_DISPUTE"
	}
}
