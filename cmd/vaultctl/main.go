package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/urfave/cli"
	"golang.org/x/term"

	"github.com/vultisig/custodian/config"
	"github.com/vultisig/custodian/internal/bootstrap"
	"github.com/vultisig/custodian/internal/logging"
	"github.com/vultisig/custodian/internal/securemem"
	"github.com/vultisig/custodian/internal/vault"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[vaultctl] %v\n", err)
	os.Exit(1)
}

// withVault opens the configured secure store and hands a locked vault to fn.
func withVault(ctx *cli.Context, fn func(context.Context, *vault.Vault) error) error {
	cfg, err := config.ReadConfig(ctx.GlobalString("config"))
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	logger := logging.Logger

	c := context.Background()
	stores, err := bootstrap.OpenStores(c, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	sessionKey, err := securemem.NewSessionKey()
	if err != nil {
		return err
	}
	v := vault.New(stores.Secure, sessionKey, logger)
	defer v.Close()
	return fn(c, v)
}

func readPassword(text string) ([]byte, error) {
	fmt.Print(text)

	// syscall.Stdin is a handle on windows, hence the cast.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()
	return pw, err
}

// readNewPassword prompts twice and fails when the entries differ.
func readNewPassword(text string) (string, error) {
	pw, err := readPassword(text)
	if err != nil {
		return "", err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if string(pw) != string(confirm) {
		return "", fmt.Errorf("passwords don't match")
	}
	return string(pw), nil
}

func main() {
	app := cli.NewApp()
	app.Name = "vaultctl"
	app.Usage = "manage the custodian master key vault"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Value: "config-custodian",
			Usage: "name of the config file to read, without extension",
		},
	}
	app.Commands = []cli.Command{
		statusCommand,
		initCommand,
		verifyCommand,
		changePasswordCommand,
		migrateCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
