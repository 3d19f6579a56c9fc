package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/debrief/internal/database"
	"github.com/dukerupert/debrief/internal/model"
	"github.com/dukerupert/debrief/internal/push"
	"github.com/dukerupert/debrief/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				version, err := database.Status(db)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database at version %d\n", version)
				return nil
			})
		},
	}
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a sign-in identity and its user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" || strings.TrimSpace(name) == "" {
				return fmt.Errorf("--email and --name are required")
			}
			return ctx.withDB(func(db *sql.DB) error {
				identities := store.NewIdentityStore(db)
				identity, err := identities.GetByEmail(email)
				if err != nil {
					return err
				}
				if identity == nil {
					if identity, err = identities.Create(email); err != nil {
						return err
					}
				}

				users := store.NewUserStore(db)
				if existing, err := users.FirstForIdentity(identity.ID); err != nil {
					return err
				} else if existing != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s already has user %s (id %d)\n", identity.EmailAddress, existing.Name, existing.ID)
					return nil
				}

				user, err := users.Create(identity.ID, strings.TrimSpace(name))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d) for %s\n", user.Name, user.ID, identity.EmailAddress)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Sign-in email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name, used as recorded_by")
	return cmd
}

func newVAPIDKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for web push",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "DEBRIEF_VAPID_PUBLIC_KEY=%s\n", pub)
			fmt.Fprintf(out, "DEBRIEF_VAPID_PRIVATE_KEY=%s\n", priv)
			return nil
		},
	}
}

func newDebriefsCommand(ctx *commandContext) *cobra.Command {
	debriefsCmd := &cobra.Command{
		Use:   "debriefs",
		Short: "Inspect stored debriefs",
	}

	debriefsCmd.AddCommand(newDebriefsListCommand(ctx))
	debriefsCmd.AddCommand(newDebriefsStatusCommand(ctx))

	return debriefsCmd
}

func newDebriefsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var undelivered bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent debriefs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				debriefs := store.NewDebriefStore(db)
				var (
					items []model.Debrief
					err   error
				)
				if undelivered {
					items, err = debriefs.ListUndelivered()
				} else {
					items, err = debriefs.ListRecent(limit)
				}
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No debriefs")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, d := range items {
					rows = append(rows, []string{
						strconv.FormatInt(d.ID, 10),
						string(d.EntryType),
						string(d.Status),
						string(d.Delivery),
						string(d.Completion),
						d.RecordedBy,
						d.CreatedAt.Local().Format("2006-01-02 15:04"),
						push.Truncate(d.Transcript, 40),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "Status", "Delivery", "Completion", "By", "Created", "Transcript"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of debriefs to show")
	cmd.Flags().BoolVar(&undelivered, "undelivered", false, "Only show done debriefs the listener has not received")
	return cmd
}

func newDebriefsStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show debrief counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				counts, err := store.NewDebriefStore(db).CountByStatus()
				if err != nil {
					return err
				}
				statuses := []model.Status{model.StatusPending, model.StatusTranscribing, model.StatusDone, model.StatusFailed}
				rows := make([][]string, 0, len(statuses))
				for _, s := range statuses {
					rows = append(rows, []string{string(s), strconv.Itoa(counts[s])})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
