package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func init() {
	addCommand(&cli.Command{
		Name:  "subscription",
		Usage: "IMAP SUBSCRIBE list management",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "subscribe to a mailbox",
				ArgsUsage: "USERNAME PATH",
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					path, err := requireArg(c, 1, "PATH")
					if err != nil {
						return err
					}
					be, err := openBackend(c)
					if err != nil {
						return err
					}
					ctx := context.Background()
					sess, err := be.OpenSession(ctx, username)
					if err != nil {
						return err
					}
					return be.Subscribe(ctx, sess, path)
				},
			},
			{
				Name:      "remove",
				Usage:     "unsubscribe from a mailbox",
				ArgsUsage: "USERNAME PATH",
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					path, err := requireArg(c, 1, "PATH")
					if err != nil {
						return err
					}
					be, err := openBackend(c)
					if err != nil {
						return err
					}
					ctx := context.Background()
					sess, err := be.OpenSession(ctx, username)
					if err != nil {
						return err
					}
					return be.Unsubscribe(ctx, sess, path)
				},
			},
			{
				Name:      "list",
				Usage:     "list subscribed mailboxes",
				ArgsUsage: "USERNAME",
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					be, err := openBackend(c)
					if err != nil {
						return err
					}
					ctx := context.Background()
					sess, err := be.OpenSession(ctx, username)
					if err != nil {
						return err
					}
					paths, err := be.ListSubscribed(ctx, sess)
					if err != nil {
						return err
					}
					for _, p := range paths {
						fmt.Println(p)
					}
					return nil
				},
			},
		},
	})
}
