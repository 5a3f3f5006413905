package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/manager"
	"github.com/charlesren/bgp_peer_manager/publish"
	"github.com/charlesren/ylog"
	"github.com/spf13/cobra"
)

func newPeersCmd(a *app) *cobra.Command {
	var (
		filterArg string
		output    string
		publishKV bool
		watch     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List BGP peers of the router",
		Example: `  bgpctl peers --host 192.0.2.1 -u admin --filter established
  bgpctl peers --filter not_established -o json --publish
  bgpctl peers --filter all --watch 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := bgp.ParseFilter(filterArg)
			if err != nil {
				return err
			}
			format, err := parseOutput(output)
			if err != nil {
				return err
			}
			device, err := a.sessionConfig()
			if err != nil {
				return err
			}

			opts := []manager.Option{manager.WithConnectRetries(a.cfg.Connect.Retries)}
			if publishKV {
				p, err := publish.NewConsulPublisher(a.cfg.Consul)
				if err != nil {
					return err
				}
				opts = append(opts, manager.WithPublisher(p))
			}
			mgr := manager.NewManager(opts...)
			defer mgr.Stop()

			ctx := cmd.Context()
			if watch > 0 {
				return mgr.Watch(ctx, *device, filter, watch, func(r *manager.QueryResult, err error) {
					if r != nil {
						if rerr := renderPeers(a.out, format, r); rerr != nil {
							ylog.Errorf("CLI", "render peers: %v", rerr)
						}
					}
					if err != nil {
						fmt.Fprintf(a.errOut, "query %s failed: %v\n", device.Host, err)
					}
				})
			}

			job := manager.Submit(mgr, ctx, "query "+device.Host, func(ctx context.Context) (*manager.QueryResult, error) {
				return mgr.QueryPeers(ctx, *device, filter)
			})
			result, err := job.Wait(ctx)
			if result != nil {
				if rerr := renderPeers(a.out, format, result); rerr != nil {
					return rerr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&filterArg, "filter", "f", "", "peer filter: all, established or not_established")
	addOutputFlag(cmd.Flags(), &output)
	cmd.Flags().BoolVar(&publishKV, "publish", false, "publish the result to Consul KV")
	cmd.Flags().DurationVar(&watch, "watch", 0, "repeat the query at this interval until interrupted")
	_ = cmd.MarkFlagRequired("filter")
	return cmd
}
