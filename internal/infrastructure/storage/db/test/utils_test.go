package db_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-p2p/internal/infrastructure/storage/db/inmemory"
	"github.com/thanhpk/randstr"
)

type repoManager struct {
	Name    string
	Manager ports.RepoManager
}

func createRepoManagers(t *testing.T) []repoManager {
	badgerRepoManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	t.Cleanup(badgerRepoManager.Close)

	return []repoManager{
		{
			Name:    "badger",
			Manager: badgerRepoManager,
		},
		{
			Name:    "inmemory",
			Manager: inmemory.NewRepoManager(),
		},
	}
}

func makeRandomTrade(t *testing.T) *domain.Trade {
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
	trade, err := domain.NewTrade(offer, offer.TakerRole(), offer.MakerAddress, 1000)
	require.NoError(t, err)
	return trade
}
