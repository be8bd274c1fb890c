package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/vultisig/custodian/internal/vault"
)

var statusCommand = cli.Command{
	Name:   "status",
	Usage:  "Show whether the vault has been initialized.",
	Action: status,
}

func status(ctx *cli.Context) error {
	return withVault(ctx, func(c context.Context, v *vault.Vault) error {
		initialized, err := v.IsInitialized(c)
		if err != nil {
			return err
		}
		fmt.Printf("initialized: %t\n", initialized)
		return nil
	})
}

var initCommand = cli.Command{
	Name:  "init",
	Usage: "Create the master key and protect it with a password.",
	Description: `
	Generates a fresh master data key and stores it encrypted under the
	given password. Fails when the vault is already initialized.`,
	Action: initVault,
}

func initVault(ctx *cli.Context) error {
	pw, err := readNewPassword("Input new vault password: ")
	if err != nil {
		return err
	}
	return withVault(ctx, func(c context.Context, v *vault.Vault) error {
		if err := v.Initialize(c, pw); err != nil {
			return err
		}
		fmt.Println("vault initialized")
		return nil
	})
}

var verifyCommand = cli.Command{
	Name:   "verify",
	Usage:  "Check a password against the stored verifier.",
	Action: verify,
}

func verify(ctx *cli.Context) error {
	pw, err := readPassword("Input vault password: ")
	if err != nil {
		return err
	}
	return withVault(ctx, func(c context.Context, v *vault.Vault) error {
		ok, err := v.Verify(c, string(pw))
		if err != nil {
			return err
		}
		if !ok {
			return vault.ErrWrongPassword
		}
		fmt.Println("password ok")
		return nil
	})
}

var changePasswordCommand = cli.Command{
	Name:  "changepassword",
	Usage: "Change the vault password.",
	Description: `
	Re-encrypts the master key under the new password. Wallet fields
	that were sealed with the old password are re-sealed with the new one.`,
	Action: changePassword,
}

func changePassword(ctx *cli.Context) error {
	oldPw, err := readPassword("Input current vault password: ")
	if err != nil {
		return err
	}
	newPw, err := readNewPassword("Input new vault password: ")
	if err != nil {
		return err
	}
	return withVault(ctx, func(c context.Context, v *vault.Vault) error {
		if err := v.ChangePassword(c, string(oldPw), newPw); err != nil {
			return err
		}
		fmt.Println("password changed")
		return nil
	})
}

var migrateCommand = cli.Command{
	Name:   "migrate",
	Usage:  "Unlock the vault and encrypt any plaintext wallet fields.",
	Action: migrate,
}

func migrate(ctx *cli.Context) error {
	pw, err := readPassword("Input vault password: ")
	if err != nil {
		return err
	}
	return withVault(ctx, func(c context.Context, v *vault.Vault) error {
		ok, err := v.Unlock(c, string(pw))
		if err != nil {
			return err
		}
		if !ok {
			return vault.ErrWrongPassword
		}
		// unlock already migrated; a second pass reports anything it missed
		migrated, err := v.MigrateLegacyFields(c)
		if err != nil {
			return err
		}
		fmt.Printf("vault unlocked, %d fields left to migrate were encrypted\n", migrated)
		return nil
	})
}
