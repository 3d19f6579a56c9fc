package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/debrief/internal/backup"
)

func newBackupCommand(ctx *commandContext) *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write an encrypted database snapshot to blob storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if passphrase == "" {
				passphrase = cfg.Storage.BackupPassphrase
			}
			blobs, err := openBlobStore(cfg)
			if err != nil {
				return err
			}
			return ctx.withDB(func(db *sql.DB) error {
				res, err := backup.Run(cmd.Context(), db, blobs, passphrase)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%d bytes)\n", res.Key, res.Size)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Encryption passphrase (defaults to DEBRIEF_BACKUP_PASSPHRASE)")
	return cmd
}

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	var passphrase, to string

	cmd := &cobra.Command{
		Use:   "restore KEY",
		Short: "Decrypt a snapshot from blob storage into a new database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if passphrase == "" {
				passphrase = cfg.Storage.BackupPassphrase
			}
			blobs, err := openBlobStore(cfg)
			if err != nil {
				return err
			}
			if err := backup.Restore(cmd.Context(), blobs, args[0], passphrase, to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s to %s\n", args[0], to)
			return nil
		},
	}

	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Encryption passphrase (defaults to DEBRIEF_BACKUP_PASSPHRASE)")
	cmd.Flags().StringVar(&to, "to", "", "Destination database path; must not exist")
	return cmd
}
