package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func init() {
	addCommand(&cli.Command{
		Name:  "account",
		Usage: "storage account management",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "create a storage account",
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
					return be.CreateAccount(username)
				},
			},
			{
				Name:      "remove",
				Usage:     "delete a storage account and every message it owns",
				ArgsUsage: "USERNAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "don't ask for confirmation"},
				},
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					if !c.Bool("yes") && !confirm(fmt.Sprintf("Delete account %s and all its messages?", username)) {
						return cli.Exit("cancelled", 1)
					}
					be, err := openBackend(c)
					if err != nil {
						return err
					}
					return be.DeleteAccount(username)
				},
			},
			{
				Name:  "list",
				Usage: "list storage accounts",
				Action: func(c *cli.Context) error {
					be, err := openBackend(c)
					if err != nil {
						return err
					}
					users, err := be.ListAccounts()
					if err != nil {
						return err
					}
					if len(users) == 0 {
						fmt.Fprintln(os.Stderr, "no accounts")
						return nil
					}
					ctx := context.Background()
					for _, u := range users {
						sess, err := be.OpenSession(ctx, u)
						if err != nil {
							fmt.Printf("%-40s (error: %v)\n", u, err)
							continue
						}
						q, err := be.GetQuota(ctx, sess)
						if err != nil {
							fmt.Printf("%-40s (error: %v)\n", u, err)
							continue
						}
						fmt.Printf("%-40s %-15s / %-15s\n", u, formatBytes(q.Used), formatBytes(q.Max))
					}
					return nil
				},
			},
		},
	})
}
