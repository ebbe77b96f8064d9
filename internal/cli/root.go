// Package cli holds the archiver's command line: the long-running service
// and the one-shot maintenance commands operators run against it.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the archiver command tree
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "archiver",
		Short: "Mail archive ingestion service",
		Long: `archiver pulls mail from IMAP and POP3 accounts into a searchable archive.

Examples:
  archiver serve                         # run the scheduler, ops API and SMTP intake
  archiver migrate                       # create or update the index schema
  archiver ingest --mailbox 3            # run one cycle for mailbox 3
  archiver ingest --daemon 7             # run daemon 7 once, honouring its criterion
  archiver discover --account 1          # record the account's folders as mailboxes
  archiver check-storage                 # report broken storage invariants`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional config file layered under the environment")

	opts := func() appOptions { return appOptions{configPath: configPath} }

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newIngestCommand(opts),
		newDiscoverCommand(opts),
		newCheckStorageCommand(opts),
		newDeleteCommand(opts),
	)
	return root
}
