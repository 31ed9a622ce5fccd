package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/secondhand-monitor/internal/credentials"
	"github.com/example/secondhand-monitor/internal/handoff"
)

// The script command rebuilds the browser cookie-injection script from a
// saved state file, for re-running a handoff by hand.
func newScriptCmd() *cobra.Command {
	var (
		stateFile string
		statePass string
	)

	cmd := &cobra.Command{
		Use:   "script",
		Short: "Print the cookie injection script from a saved session state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateFile == "" || statePass == "" {
				return fmt.Errorf("--state-file and --state-pass are required")
			}
			store, err := credentials.Load(stateFile, statePass)
			if err != nil {
				return err
			}
			if store.Len() == 0 {
				return fmt.Errorf("state file holds no cookies")
			}
			entries := handoff.Entries(store.Snapshot())
			fmt.Println("// Paste in the browser console on the target origin:")
			fmt.Println(handoff.CookieScript(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFile, "state-file", getenv("MONITOR_STATE_FILE", ""), "session state file written by run")
	cmd.Flags().StringVar(&statePass, "state-pass", getenv("MONITOR_STATE_PASS", ""), "passphrase for the state file")
	return cmd
}
