package protocol

import (
	"fmt"
	"time"
)

const (
	DefaultBroadcastTimeout = 5 * time.Second
	DefaultProtocolTimeout  = 120 * time.Second
	DefaultPersistInterval  = 200 * time.Millisecond
)

// Config holds the settings of the trade service.
type Config struct {
	// MinerFee is the fee in sats paid by both the deposit and the payout tx.
	MinerFee uint64
	// BroadcastTimeout bounds the wait for the wallet to accept a broadcast
	// before the trade advances optimistically.
	BroadcastTimeout time.Duration
	// ProtocolTimeout bounds the wait for the peer reply before the deposit
	// is published. Zero disables it.
	ProtocolTimeout time.Duration
	// PersistInterval is the period of the coalesced trade writes.
	PersistInterval time.Duration
	// PaymentAccountId identifies the local payment account, shared with the
	// peer if set.
	PaymentAccountId string
	// Interceptor, if set, runs before every protocol task.
	Interceptor Interceptor
}

func (c Config) validate() error {
	if c.MinerFee == 0 {
		return fmt.Errorf("miner fee must be greater than zero")
	}
	if c.BroadcastTimeout < 0 {
		return fmt.Errorf("broadcast timeout must not be negative")
	}
	if c.ProtocolTimeout < 0 {
		return fmt.Errorf("protocol timeout must not be negative")
	}
	if c.PersistInterval < 0 {
		return fmt.Errorf("persist interval must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BroadcastTimeout == 0 {
		c.BroadcastTimeout = DefaultBroadcastTimeout
	}
	if c.PersistInterval == 0 {
		c.PersistInterval = DefaultPersistInterval
	}
	return c
}
