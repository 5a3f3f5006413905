package main

import (
	"github.com/charlesren/bgp_peer_manager/audit"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/spf13/cobra"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent deactivation attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return errdefs.InvalidInput("limit", "must be positive")
			}

			store, err := audit.Open(cmd.Context(), a.cfg.Audit.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderAudit(a.out, format, entries)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", audit.DefaultListLimit, "number of entries to show")
	addOutputFlag(cmd.Flags(), &output)
	return cmd
}
