package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func init() {
	addCommand(&cli.Command{
		Name:  "quota",
		Usage: "per-account quota management",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "show current usage and limit",
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
					q, err := be.GetQuota(ctx, sess)
					if err != nil {
						return err
					}
					fmt.Printf("used:  %s\n", formatBytes(q.Used))
					if q.Max > 0 {
						limit := formatBytes(q.Max)
						if q.IsDefault {
							limit += " (default)"
						}
						fmt.Printf("limit: %s\n", limit)
					} else {
						fmt.Println("limit: none")
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "set a per-account limit",
				ArgsUsage: "USERNAME LIMIT",
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					limitStr, err := requireArg(c, 1, "LIMIT")
					if err != nil {
						return err
					}
					limit, err := parseSize(limitStr)
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
					return be.SetQuota(ctx, sess, limit)
				},
			},
		},
	})
}
