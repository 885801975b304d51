package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	"github.com/thanhpk/randstr"
)

func newTestTrade(t *testing.T, takeOfferDate int64) *domain.Trade {
	offer := domain.Offer{
		Id:                    randstr.Hex(16),
		Direction:             domain.OfferSell,
		Amount:                100000000,
		Price:                 decimal.NewFromInt(30000),
		BuyerSecurityDeposit:  50000000,
		SellerSecurityDeposit: 50000000,
		PaymentMethodId:       "SEPA",
		MakerAddress:          randstr.Hex(8) + ".onion:9999",
	}
	trade, err := domain.NewTrade(offer, domain.RoleTakerAsBuyer, offer.MakerAddress, 300000)
	require.NoError(t, err)
	trade.TakeOfferDate = takeOfferDate
	return trade
}

func TestTradeViews(t *testing.T) {
	open := newTestTrade(t, 3)
	failed := newTestTrade(t, 1)
	require.NoError(t, failed.Fail("protocol violation"))
	reopened := newTestTrade(t, 2)
	require.NoError(t, reopened.ReopenOffer("peer unreachable"))

	list := []*domain.Trade{failed, open, reopened}

	t.Run("all", func(t *testing.T) {
		views := newTradeViews(list, nil)
		require.Len(t, views, 3)
		require.Equal(t, open.Id, views[0].Id)
		require.Equal(t, reopened.Id, views[1].Id)
		require.Equal(t, failed.Id, views[2].Id)

		require.Equal(t, "1", views[0].Amount)
		require.Equal(t, "0.5", views[0].BuyerSecurityDeposit)
		require.Equal(t, "0.003", views[0].MinerFee)
		require.Equal(t, "30000", views[0].Price)
		require.Equal(t, domain.RoleTakerAsBuyer.String(), views[0].Role)
	})

	t.Run("failed", func(t *testing.T) {
		views := newTradeViews(list, isFailed)
		require.Len(t, views, 2)
		require.Equal(t, reopened.Id, views[0].Id)
		require.Equal(t, "peer unreachable", views[0].ErrorMessage)
		require.Equal(t, failed.Id, views[1].Id)
		require.Equal(t, domain.StateFailed.String(), views[1].State)
	})
}

func TestMailboxEntryViews(t *testing.T) {
	entry := ports.NewMailboxEntry(randstr.Hex(16), "bob.onion:9999", randstr.Hex(16), []byte{1, 2, 3})
	entry.CreatedAt = 0
	entry.Attempts = 2

	views := newMailboxEntryViews([]ports.MailboxEntry{entry})
	require.Len(t, views, 1)
	require.Equal(t, entry.Id, views[0].Id)
	require.Equal(t, 3, views[0].Size)
	require.Equal(t, 2, views[0].Attempts)
	require.Equal(t, "1970-01-01T00:00:00Z", views[0].CreatedAt)
}
