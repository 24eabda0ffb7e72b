// Command mailstorectl manages accounts, mailboxes, quotas and
// subscriptions on any storage backend registered with
// framework/module, independent of the process actually serving IMAP
// traffic.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"github.com/tidemail/store/framework/config"
	"github.com/tidemail/store/framework/log"
	"github.com/tidemail/store/framework/module"

	_ "github.com/tidemail/store/internal/storage/documentstore"
	_ "github.com/tidemail/store/internal/storage/maildirstore"
	_ "github.com/tidemail/store/internal/storage/memory"
	_ "github.com/tidemail/store/internal/storage/sqlstore"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Usage = "manage storage engine accounts, mailboxes, quotas and subscriptions"
	app.Description = `mailstorectl operates directly on a storage backend's database or
directory tree: it does not talk to a running server.

Pick the backend module with -backend and configure it with repeated
-set name=value flags, the same directive/argument pairs a config block
passes that module's Init. For example, against the maildir backend:

  mailstorectl -backend storage.maildir -set root=/var/mail account create jdoe

or against the relational backend:

  mailstorectl -backend storage.sql -set driver=sqlite -set dsn=/var/lib/mailstore.db \
    mailbox create jdoe Archive/2024
`
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "backend",
			Usage: "storage module to operate on (storage.memory, storage.maildir, storage.documentstore, storage.sql)",
			Value: "storage.maildir",
		},
		&cli.StringSliceFlag{
			Name:  "set",
			Usage: "backend config directive as name=value, repeatable",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			log.SetOutput(&hclog.LoggerOptions{Name: "mailstore", Output: os.Stderr, Level: hclog.Debug})
		}
		return nil
	}
}

func addCommand(cmd *cli.Command) {
	app.Commands = append(app.Commands, cmd)
}

// openBackend constructs and initializes the backend named by -backend,
// feeding it a config.Map built from the repeated -set name=value flags.
func openBackend(c *cli.Context) (module.AdminStorage, error) {
	modName := c.String("backend")
	mod, err := module.Get(modName, "mailstorectl", nil, nil)
	if err != nil {
		return nil, err
	}
	be, ok := mod.(module.AdminStorage)
	if !ok {
		return nil, fmt.Errorf("mailstorectl: module %q does not implement account management", modName)
	}

	var children []config.Node
	for _, kv := range c.StringSlice("set") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("mailstorectl: -set %q is not in name=value form", kv)
		}
		children = append(children, config.Node{Name: name, Args: []string{value}})
	}

	if err := be.Init(config.NewMap(nil, config.Node{Children: children})); err != nil {
		return nil, fmt.Errorf("mailstorectl: init %s: %w", modName, err)
	}
	return be, nil
}

func requireArg(c *cli.Context, n int, name string) (string, error) {
	v := c.Args().Get(n)
	if v == "" {
		return "", cli.Exit(fmt.Sprintf("Error: %s is required", name), 2)
	}
	return v, nil
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
