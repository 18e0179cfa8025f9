package devnet

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/relay"
)

const bridgeBuffer = 256

// DevnetService runs the whole network in one process behind one API. The
// bridge is a pair of in-memory channels.
//
//nolint:revive
type DevnetService struct {
	*Network

	interval  time.Duration
	toHome    *relay.Channel
	toForeign *relay.Channel
}

func NewDevnetService(i do.Injector) (*DevnetService, error) {
	cfg := do.MustInvokeNamed[Config](i, "devnet-config")
	dataDir := do.MustInvokeNamed[string](i, "data-dir")
	interval := do.MustInvokeNamed[time.Duration](i, "relay-interval")
	logger := do.MustInvoke[*logrus.Logger](i)

	toHome := relay.NewChannel(bridgeBuffer, logger)
	toForeign := relay.NewChannel(bridgeBuffer, logger)

	network, err := Open(cfg, dataDir, toHome, toForeign, logger)
	if err != nil {
		return nil, err
	}

	echoService, err := do.Invoke[*internal.EchoService](i)
	if err != nil {
		_ = network.Shutdown()

		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		network.Foreign.Register(e)
		network.Home.Register(e)
		network.Arbitrator.Register(e)
		network.Application.Register(e)
	})

	return &DevnetService{
		Network:   network,
		interval:  interval,
		toHome:    toHome,
		toForeign: toForeign,
	}, nil
}

// Start connects the bridge and keeps messages moving until ctx is done.
func (s *DevnetService) Start(ctx context.Context) {
	s.toHome.Start(ctx, s.Home.Inbox())
	s.toForeign.Start(ctx, s.Foreign.Inbox())

	go s.Run(ctx, s.interval)

	s.Home.Logger.WithField("interval", s.interval).Info("devnet relayer started")
}
