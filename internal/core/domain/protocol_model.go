package domain

import (
	"fmt"
	"strings"
)

// RawInput is an unspent output contributed to the deposit tx.
type RawInput struct {
	TxId         string
	OutputIndex  uint32
	Value        uint64
	PubKeyScript []byte
}

// ChangeOutput is the change of one party's contribution. A zero value means
// no change output.
type ChangeOutput struct {
	Address string
	Value   uint64
}

// SumInputs returns the total value of the given inputs.
func SumInputs(inputs []RawInput) uint64 {
	var total uint64
	for _, in := range inputs {
		total += in.Value
	}
	return total
}

// TradingPeer holds what the counterparty published during the protocol.
type TradingPeer struct {
	MultisigPubKey    Optional[[]byte]
	PayoutAddress     Optional[string]
	RawInputs         Optional[[]RawInput]
	Change            Optional[ChangeOutput]
	PaymentAccountRef Optional[string]
	PayoutSignature   Optional[[]byte]
}

// AckRecord is an acknowledgement received from the peer.
type AckRecord struct {
	SourceUid    string
	SourceType   MessageType
	Success      bool
	ErrorMessage string
}

// ProtocolModel is the per-trade working data exchanged between local and
// remote protocol tasks. Fields are set once by the task owning them and are
// checked as a group whenever the trade crosses a phase boundary.
type ProtocolModel struct {
	MultisigPubKey    Optional[[]byte]
	PayoutAddress     Optional[string]
	RawInputs         Optional[[]RawInput]
	Change            Optional[ChangeOutput]
	PaymentAccountRef Optional[string]
	// PreparedDepositTx is the deposit PSBT partially signed by the maker.
	PreparedDepositTx Optional[[]byte]
	PayoutSignature   Optional[[]byte]
	Peer              TradingPeer

	// InFlightMessage references the inbound message being processed.
	InFlightMessage   string
	ProcessedMessages map[string]bool
	Acks              []AckRecord
}

// IsProcessed returns whether the message with the given uid was already
// handled.
func (m *ProtocolModel) IsProcessed(uid string) bool {
	return m.ProcessedMessages[uid]
}

// MarkProcessed records uid among the handled messages.
func (m *ProtocolModel) MarkProcessed(uid string) {
	if m.ProcessedMessages == nil {
		m.ProcessedMessages = make(map[string]bool)
	}
	m.ProcessedMessages[uid] = true
}

// AddAck records an acknowledgement from the peer.
func (m *ProtocolModel) AddAck(ack AckRecord) {
	m.Acks = append(m.Acks, ack)
}

type requirement struct {
	name  string
	isSet bool
}

// requirements returns the fields needed to enter the given phase.
func (t *Trade) requirements(phase TradePhase) []requirement {
	m := &t.Model
	reqs := make([]requirement, 0)

	if phase >= PhaseDepositTxArranged && phase <= PhaseCompleted {
		reqs = append(reqs,
			requirement{"multisig pubkey", m.MultisigPubKey.IsSet},
			requirement{"payout address", m.PayoutAddress.IsSet},
			requirement{"raw inputs", m.RawInputs.IsSet},
			requirement{"peer multisig pubkey", m.Peer.MultisigPubKey.IsSet},
			requirement{"peer payout address", m.Peer.PayoutAddress.IsSet},
			requirement{"peer raw inputs", m.Peer.RawInputs.IsSet},
			requirement{"prepared deposit tx", m.PreparedDepositTx.IsSet},
		)
	}
	if phase >= PhaseDepositPublished && phase <= PhaseCompleted {
		reqs = append(reqs, requirement{"deposit tx", len(t.DepositTx) > 0})
	}
	if phase >= PhasePaymentSent && phase <= PhaseCompleted {
		if t.Role.IsBuyer() {
			reqs = append(reqs, requirement{"payout signature", m.PayoutSignature.IsSet})
		} else {
			reqs = append(reqs, requirement{"peer payout signature", m.Peer.PayoutSignature.IsSet})
		}
	}
	if phase >= PhasePayoutPublished && phase <= PhaseCompleted {
		reqs = append(reqs, requirement{"payout tx", len(t.PayoutTx) > 0})
	}
	return reqs
}

// ValidateProtocolData checks that every field required by the given phase
// is present.
func (t *Trade) ValidateProtocolData(phase TradePhase) error {
	missing := make([]string, 0)
	for _, r := range t.requirements(phase) {
		if !r.isSet {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf(
			"%w for phase %s: %s",
			ErrMissingProtocolData, phase, strings.Join(missing, ", "),
		)
	}
	return nil
}
