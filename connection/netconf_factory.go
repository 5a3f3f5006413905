package connection

import (
	"context"
	"fmt"

	"github.com/charlesren/ylog"
	"github.com/scrapli/scrapligo/driver/netconf"
	"github.com/scrapli/scrapligo/driver/options"
	"github.com/scrapli/scrapligo/transport"
	"github.com/scrapli/scrapligo/util"
)

type NetconfFactory struct{}

func (f *NetconfFactory) Create(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
	ylog.Debugf("netconf", "creating driver for %s", config.GetConnectionString())

	opts := append(scrapliAuthOptions(config),
		options.WithTransportType(transport.StandardTransport),
	)
	d, err := netconf.NewDriver(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create netconf driver failed: %w", err)
	}

	return openWithContext(ctx, config.ConnectTimeout, func() (ProtocolDriver, error) {
		if err := d.Open(); err != nil {
			return nil, fmt.Errorf("open netconf session failed: %w", err)
		}
		return newNetconfDriver(config.Host, d, d.Transport.IsAlive, config.CommitTimeout), nil
	})
}

// scrapliAuthOptions netconf和CLI驱动共用的连接选项
func scrapliAuthOptions(config SessionConfig) []util.Option {
	opts := []util.Option{
		options.WithAuthUsername(config.Username),
		options.WithAuthPassword(config.Password),
		options.WithPort(config.Port),
		options.WithTimeoutSocket(config.ConnectTimeout),
		options.WithTimeoutOps(config.OperationTimeout),
	}
	if config.StrictHostKey {
		opts = append(opts, options.WithSSHKnownHostsFile(config.KnownHostsFile))
	} else {
		opts = append(opts, options.WithAuthNoStrictKey())
	}
	return opts
}
