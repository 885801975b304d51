package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tdex-network/tdex-p2p/internal/core/ports"
	natsmessenger "github.com/tdex-network/tdex-p2p/internal/infrastructure/messenger/nats"
	"github.com/urfave/cli/v2"
)

var (
	mailbox = cli.Command{
		Name:  "mailbox",
		Usage: "inspect or flush the messages waiting for offline peers",
		Subcommands: []*cli.Command{
			mailboxListCmd, mailboxRedeliverCmd, mailboxDropCmd,
		},
	}

	mailboxListCmd = &cli.Command{
		Name:  "list",
		Usage: "list the messages in the mailbox, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "peer",
				Usage: "list only the messages addressed to the given peer",
			},
		},
		Action: listMailboxAction,
	}
	mailboxRedeliverCmd = &cli.Command{
		Name:  "redeliver",
		Usage: "try to deliver all the messages in the mailbox",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "nats-url",
				Usage:    "the url of the NATS server",
				EnvVars:  []string{"TDEXP2P_NATS_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Usage:    "the address of the node",
				EnvVars:  []string{"TDEXP2P_NODE_ADDRESS"},
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "the max time to wait for every peer to reply",
				Value: 10 * time.Second,
			},
		},
		Action: redeliverMailboxAction,
	}
	mailboxDropCmd = &cli.Command{
		Name:      "drop",
		Usage:     "remove a message from the mailbox",
		ArgsUsage: "<entry id>",
		Action:    dropMailboxEntryAction,
	}
)

type mailboxEntryView struct {
	Id        string `json:"id"`
	Peer      string `json:"peer"`
	TradeId   string `json:"trade_id"`
	Size      int    `json:"size"`
	CreatedAt string `json:"created_at"`
	Attempts  int    `json:"attempts"`
}

func newMailboxEntryViews(entries []ports.MailboxEntry) []mailboxEntryView {
	views := make([]mailboxEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, mailboxEntryView{
			Id:        e.Id,
			Peer:      e.Peer,
			TradeId:   e.TradeId,
			Size:      len(e.Payload),
			CreatedAt: time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339),
			Attempts:  e.Attempts,
		})
	}
	return views
}

func listMailboxAction(ctx *cli.Context) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	entries, err := repoManager.MailboxRepository().ListEntries(
		context.Background(), ctx.String("peer"),
	)
	if err != nil {
		return err
	}

	printRespJSON(newMailboxEntryViews(entries))
	return nil
}

func redeliverMailboxAction(ctx *cli.Context) error {
	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	messenger, err := natsmessenger.NewMessenger(natsmessenger.Config{
		URL:            ctx.String("nats-url"),
		Address:        ctx.String("address"),
		RequestTimeout: ctx.Duration("timeout"),
		RetryInterval:  time.Hour,
	}, repoManager.MailboxRepository())
	if err != nil {
		return err
	}
	defer messenger.Close()

	count, err := messenger.Redeliver(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("delivered %d messages\n", count)
	return nil
}

func dropMailboxEntryAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, ctx.Command.Name}
	}

	repoManager, err := openRepoManager(ctx)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	if err := repoManager.MailboxRepository().DeleteEntry(
		context.Background(), ctx.Args().First(),
	); err != nil {
		return err
	}

	fmt.Println("mailbox entry removed")
	return nil
}
