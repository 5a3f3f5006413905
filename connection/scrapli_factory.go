package connection

import (
	"context"
	"fmt"

	"github.com/charlesren/ylog"
	"github.com/scrapli/scrapligo/platform"
)

// connection/scrapli_factory.go
type ScrapliFactory struct{}

func (f *ScrapliFactory) Create(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
	ylog.Debugf("scrapli", "creating driver for %s (platform %s)", config.GetConnectionString(), config.Platform)
	if config.Platform == "" {
		return nil, fmt.Errorf("platform cannot be empty")
	}

	p, err := platform.NewPlatform(string(config.Platform), config.Host, scrapliAuthOptions(config)...)
	if err != nil {
		return nil, fmt.Errorf("create platform failed: %w", err)
	}

	driver, err := p.GetNetworkDriver()
	if err != nil {
		return nil, fmt.Errorf("get network driver failed: %w", err)
	}

	return openWithContext(ctx, config.ConnectTimeout, func() (ProtocolDriver, error) {
		if err := driver.Open(); err != nil {
			return nil, fmt.Errorf("open connection failed: %w", err)
		}
		ylog.Debugf("scrapli", "driver opened for %s", config.Address())
		return newScrapliDriver(config.Host, driver, driver.Transport.IsAlive, config.CommitTimeout), nil
	})
}
