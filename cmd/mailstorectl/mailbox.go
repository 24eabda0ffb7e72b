package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func init() {
	addCommand(&cli.Command{
		Name:  "mailbox",
		Usage: "mailbox tree management",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "create a mailbox",
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
					return be.CreateMailbox(ctx, sess, path)
				},
			},
			{
				Name:      "remove",
				Usage:     "delete a mailbox",
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
					return be.DeleteMailbox(ctx, sess, path)
				},
			},
			{
				Name:      "rename",
				Usage:     "rename a mailbox, carrying its children along",
				ArgsUsage: "USERNAME OLDPATH NEWPATH",
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					oldPath, err := requireArg(c, 1, "OLDPATH")
					if err != nil {
						return err
					}
					newPath, err := requireArg(c, 2, "NEWPATH")
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
					return be.RenameMailbox(ctx, sess, oldPath, newPath)
				},
			},
			{
				Name:      "list",
				Usage:     "list mailboxes matching a pattern (default: everything)",
				ArgsUsage: "USERNAME [PATTERN]",
				Action: func(c *cli.Context) error {
					username, err := requireArg(c, 0, "USERNAME")
					if err != nil {
						return err
					}
					pattern := c.Args().Get(1)
					if pattern == "" {
						pattern = "*"
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
					paths, err := be.ListMailboxPaths(ctx, sess, pattern)
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
