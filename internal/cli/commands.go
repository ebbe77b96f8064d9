package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/welldanyogia/mailarchive/internal/database"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/repository"
)

func newMigrateCommand(opts func() appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the index schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts())
			if err != nil {
				return err
			}
			defer a.Close()
			return database.Migrate(a.db)
		},
	}
}

// ingestFlags selects what one ingest invocation runs
type ingestFlags struct {
	mailboxID uint
	daemonID  uint
	criterion string
}

func (f ingestFlags) validate() (fetcher.Criterion, error) {
	if (f.mailboxID == 0) == (f.daemonID == 0) {
		return fetcher.Criterion{}, fmt.Errorf("exactly one of --mailbox or --daemon is required")
	}
	if f.daemonID != 0 {
		if f.criterion != "" {
			return fetcher.Criterion{}, fmt.Errorf("--criterion cannot be combined with --daemon")
		}
		return fetcher.Criterion{}, nil
	}
	if f.criterion == "" {
		return fetcher.All, nil
	}
	return fetcher.ParseCriterion(f.criterion)
}

func newIngestCommand(opts func() appOptions) *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			criterion, err := flags.validate()
			if err != nil {
				return err
			}

			a, err := newApp(opts())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if flags.daemonID != 0 {
				daemon, err := repository.NewDaemonRepository(a.db).GetByID(ctx, flags.daemonID)
				if err != nil {
					return err
				}
				report, err := a.runner.RunDaemon(ctx, daemon.MailboxID, daemon.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			}

			report, err := a.runner.Run(ctx, flags.mailboxID, criterion)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().UintVar(&flags.mailboxID, "mailbox", 0, "mailbox id to ingest")
	cmd.Flags().UintVar(&flags.daemonID, "daemon", 0, "daemon id to run once")
	cmd.Flags().StringVar(&flags.criterion, "criterion", "", `search criterion for --mailbox, e.g. "SINCE 2024-01-01" (default ALL)`)
	return cmd
}

func newDiscoverCommand(opts func() appOptions) *cobra.Command {
	var accountID uint

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Record an account's server folders as mailboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID == 0 {
				return fmt.Errorf("--account is required")
			}
			a, err := newApp(opts())
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := a.runner.DiscoverMailboxes(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), added)
		},
	}
	cmd.Flags().UintVar(&accountID, "account", 0, "account id")
	return cmd
}

func newDeleteCommand(opts func() appOptions) *cobra.Command {
	var emailID, mailboxID uint

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an archived email or a whole mailbox with its stored files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (emailID == 0) == (mailboxID == 0) {
				return fmt.Errorf("exactly one of --email or --mailbox is required")
			}
			a, err := newApp(opts())
			if err != nil {
				return err
			}
			defer a.Close()

			remover := repository.NewArchiveRemover(a.db, a.store, a.raw)
			if emailID != 0 {
				return remover.DeleteEmail(cmd.Context(), emailID)
			}
			return remover.DeleteMailbox(cmd.Context(), mailboxID)
		},
	}
	cmd.Flags().UintVar(&emailID, "email", 0, "email id to delete")
	cmd.Flags().UintVar(&mailboxID, "mailbox", 0, "mailbox id to delete with all its emails")
	return cmd
}

func newCheckStorageCommand(opts func() appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-storage",
		Short: "Report broken storage invariants without repairing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts())
			if err != nil {
				return err
			}
			defer a.Close()

			violations, err := a.store.Check(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), violations); err != nil {
				return err
			}
			if len(violations) > 0 {
				return fmt.Errorf("storage has %d violation(s)", len(violations))
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
