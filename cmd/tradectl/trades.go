package main

import (
	"context"
	"sort"

	"github.com/tdex-network/tdex-p2p/internal/core/domain"
	"github.com/tdex-network/tdex-p2p/pkg/mathutil"
	"github.com/urfave/cli/v2"
)

var (
	trades = cli.Command{
		Name:  "trades",
		Usage: "list or show the trades of the node",
		Subcommands: []*cli.Command{
			tradesListCmd, tradesShowCmd, tradesFailedCmd,
		},
	}

	tradesListCmd = &cli.Command{
		Name:  "list",
		Usage: "list all trades, most recent first",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "open",
				Usage: "list only the trades whose protocol is not over",
			},
		},
		Action: listTradesAction,
	}
	tradesShowCmd = &cli.Command{
		Name:      "show",
		Usage:     "show the details of a trade",
		ArgsUsage: "<trade id>",
		Action:    showTradeAction,
	}
	tradesFailedCmd = &cli.Command{
		Name:   "failed",
		Usage:  "list the failed trades with their error",
		Action: listFailedTradesAction,
	}
)

type tradeView struct {
	Id                    string `json:"id"`
	Role                  string `json:"role"`
	State                 string `json:"state"`
	Phase                 string `json:"phase"`
	DisputeState          string `json:"dispute_state"`
	Amount                string `json:"amount"`
	Price                 string `json:"price"`
	BuyerSecurityDeposit  string `json:"buyer_security_deposit"`
	SellerSecurityDeposit string `json:"seller_security_deposit"`
	MinerFee              string `json:"miner_fee"`
	PaymentMethodId       string `json:"payment_method_id"`
	PeerAddress           string `json:"peer_address"`
	TakeOfferDate         int64  `json:"take_offer_date"`
	DepositTxId           string `json:"deposit_txid,omitempty"`
	PayoutTxId            string `json:"payout_txid,omitempty"`
	ErrorMessage          string `json:"error,omitempty"`
}

func newTradeView(t *domain.Trade) tradeView {
	return tradeView{
		Id:                    t.Id,
		Role:                  t.Role.String(),
		State:                 t.State.String(),
		Phase:                 t.Phase().String(),
		DisputeState:          t.DisputeState.String(),
		Amount:                mathutil.SatsToBtc(t.Amount).String(),
		Price:                 t.Price.String(),
		BuyerSecurityDeposit:  mathutil.SatsToBtc(t.BuyerSecurityDeposit).String(),
		SellerSecurityDeposit: mathutil.SatsToBtc(t.SellerSecurityDeposit).String(),
		MinerFee:              mathutil.SatsToBtc(t.MinerFee).String(),
		PaymentMethodId:       t.PaymentMethodId,
		PeerAddress:           t.PeerAddress,
		TakeOfferDate:         t.TakeOfferDate,
		DepositTxId:           t.DepositTxId,
		PayoutTxId:            t.PayoutTxId,
		ErrorMessage:          t.ErrorMessage,
	}
}

func newTradeViews(trades []*domain.Trade, filter func(*domain.Trade) bool) []tradeView {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].TakeOfferDate > trades[j].TakeOfferDate
	})
	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		if filter != nil && !filter(t) {
			continue
		}
		views = append(views, newTradeView(t))
	}
	return views
}

func listTradesAction(ctx *cli.Context) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	repo := repoManager.TradeRepository()
	var list []*domain.Trade
	if ctx.Bool("open") {
		list, err = repo.GetOpenTrades(context.Background())
	} else {
		list, err = repo.GetAllTrades(context.Background())
	}
	if err != nil {
		return err
	}

	printRespJSON(newTradeViews(list, nil))
	return nil
}

func showTradeAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, ctx.Command.Name}
	}

	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	trade, err := repoManager.TradeRepository().GetTrade(
		context.Background(), ctx.Args().First(),
	)
	if err != nil {
		return err
	}

	printRespJSON(newTradeView(trade))
	return nil
}

func listFailedTradesAction(ctx *cli.Context) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	list, err := repoManager.TradeRepository().GetAllTrades(context.Background())
	if err != nil {
		return err
	}

	printRespJSON(newTradeViews(list, isFailed))
	return nil
}

// isFailed matches the trades in failed state or closed with an error, like
// reverted offers.
func isFailed(t *domain.Trade) bool {
	return t.State == domain.StateFailed ||
		(t.IsClosed() && len(t.ErrorMessage) > 0)
}
