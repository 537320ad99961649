package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/internal/cli/prompt"
	"github.com/marmos91/dittolock/pkg/apiclient"
)

var (
	apiURL      string
	locksOutput string
	recallYes   bool
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect the locks of a running node",
	Long: `Inspect and operate the lock manager of a running node through its API.

Examples:
  # Summary of the node
  dittolock locks status

  # Every lock with local state
  dittolock locks list

  # One lock, as JSON
  dittolock locks get orders -o json

  # Hand a greedy grant back to the lock server
  dittolock locks recall orders

  # Run one garbage collection sweep
  dittolock locks gc`,
}

var locksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lock manager summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter()
		if err != nil {
			return err
		}
		status, err := apiclient.New(apiURL).Status(cmd.Context())
		if err != nil {
			return err
		}
		if p.Format() != output.FormatTable {
			return p.Print(status)
		}
		return output.SimpleTable(os.Stdout, [][2]string{
			{"Client", string(status.ClientID)},
			{"Session", fmt.Sprintf("%d", status.Session)},
			{"State", status.State},
			{"Locks", fmt.Sprintf("%d", status.Locks)},
			{"Greedy", fmt.Sprintf("%d", status.Greedy)},
			{"Blocked", fmt.Sprintf("%d", status.Blocked)},
			{"Waiting", fmt.Sprintf("%d", status.Waiting)},
		})
	},
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every lock with local state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter()
		if err != nil {
			return err
		}
		locks, err := apiclient.New(apiURL).ListLocks(cmd.Context())
		if err != nil {
			return err
		}
		if len(locks) == 0 && p.Format() == output.FormatTable {
			p.Println("No locks.")
			return nil
		}
		return p.Print(output.LockTable(locks))
	},
}

var locksGetCmd = &cobra.Command{
	Use:   "get <lock>",
	Short: "Show the holds, pending requests and waiters of one lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter()
		if err != nil {
			return err
		}
		info, err := apiclient.New(apiURL).GetLock(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if p.Format() != output.FormatTable {
			return p.Print(info)
		}
		p.Printf("Lock %s is %s (pinned %d, idle sweeps %d)\n\n", info.ID, info.Greediness, info.Pinned, info.IdleSweeps)
		return p.Print(output.ContextTable(*info))
	},
}

var locksRecallCmd = &cobra.Command{
	Use:   "recall <lock>",
	Short: "Hand a greedy grant back to the lock server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Recall greedy grant of %s", args[0]), recallYes)
		if err != nil || !ok {
			return err
		}
		if err := apiclient.New(apiURL).RecallLock(cmd.Context(), args[0]); err != nil {
			return err
		}
		output.DefaultPrinter().Success("Recall of " + args[0] + " started")
		return nil
	},
}

var locksGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one garbage collection sweep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		collected, err := apiclient.New(apiURL).RunGC(cmd.Context())
		if err != nil {
			return err
		}
		output.DefaultPrinter().Success(fmt.Sprintf("Collected %d lock(s)", collected))
		return nil
	},
}

func init() {
	locksCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:7070", "Node API URL")
	locksCmd.PersistentFlags().StringVarP(&locksOutput, "output", "o", "table", "Output format (table|json|yaml)")
	locksRecallCmd.Flags().BoolVarP(&recallYes, "yes", "y", false, "Do not ask for confirmation")

	locksCmd.AddCommand(locksStatusCmd)
	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksGetCmd)
	locksCmd.AddCommand(locksRecallCmd)
	locksCmd.AddCommand(locksGCCmd)
}

func newPrinter() (*output.Printer, error) {
	format, err := output.ParseFormat(locksOutput)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format, true), nil
}
