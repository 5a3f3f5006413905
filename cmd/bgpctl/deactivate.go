package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charlesren/bgp_peer_manager/audit"
	"github.com/charlesren/bgp_peer_manager/manager"
	"github.com/charlesren/bgp_peer_manager/mutation"
	"github.com/charlesren/ylog"
	"github.com/spf13/cobra"
)

func newDeactivateCmd(a *app) *cobra.Command {
	var (
		group   string
		address string
		yes     bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate one BGP neighbor (stage, validate, commit)",
		Example: `  bgpctl deactivate --host 192.0.2.1 -u admin --group transit --address 203.0.113.1+179
  bgpctl deactivate --group ix --address 2001:db8::2 --yes -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			device, err := a.sessionConfig()
			if err != nil {
				return err
			}
			req := mutation.Request{
				Device:        *device,
				TargetAddress: address,
				TargetGroup:   group,
			}
			// 确认前先校验，避免对无效输入提问
			if err := req.Validate(); err != nil {
				return err
			}
			directive, _ := req.Directive()

			if !yes {
				ok, err := confirm(a.in, a.out, fmt.Sprintf("Deactivate the selected BGP session on %s?\n  %s\n", device.Host, directive))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Deactivation cancelled.")
					return nil
				}
			}

			ctx := cmd.Context()
			var ctrlOpts []mutation.Option
			if a.cfg.Audit.Enabled {
				store, err := audit.Open(ctx, a.cfg.Audit.Path)
				if err != nil {
					return err
				}
				defer store.Close()
				ctrlOpts = append(ctrlOpts, mutation.WithRecorder(store))
			}
			mgr := manager.NewManager(manager.WithController(mutation.NewController(ctrlOpts...)))
			defer mgr.Stop()

			job := manager.Submit(mgr, ctx, "deactivate "+req.TargetAddress, func(ctx context.Context) (*mutation.Outcome, error) {
				return mgr.Deactivate(ctx, req)
			})
			outcome, err := job.Wait(ctx)
			if outcome == nil {
				return err
			}
			if rerr := renderOutcome(a.out, format, outcome); rerr != nil {
				ylog.Errorf("CLI", "render outcome: %v", rerr)
			}
			if err != nil {
				return fmt.Errorf("deactivation ended in phase %s: %w", outcome.Phase, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "BGP group of the neighbor")
	cmd.Flags().StringVarP(&address, "address", "a", "", "neighbor address, a +port suffix is ignored")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	addOutputFlag(cmd.Flags(), &output)
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

// confirm 只有 y/yes 视为同意，EOF视为拒绝
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s[y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
