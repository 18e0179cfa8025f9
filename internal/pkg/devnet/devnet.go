package devnet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/vreid/crossarb/internal/pkg/application"
	"github.com/vreid/crossarb/internal/pkg/arbitrator"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/foreign"
	"github.com/vreid/crossarb/internal/pkg/home"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/relay"
)

type Config struct {
	Foreign     protocol.Endpoint
	Home        protocol.Endpoint
	Application common.Address
	Governor    common.Address
	Secret      string
	GasLimit    uint64
	Parameters  foreign.Parameters
	Arbitrator  arbitrator.Config
}

// Network is both proxies, the arbitrator and the reference application
// running in one process, each side on its own database.
type Network struct {
	Foreign     *foreign.ForeignService
	Home        *home.HomeService
	Arbitrator  *arbitrator.Centralized
	Application *application.Application

	databases []*internal.DatabaseService
}

// Open wires the network. toHome carries foreign messages to the home
// proxy and toForeign the other way; the caller connects their receivers.
func Open(cfg Config, dataDir string, toHome, toForeign relay.Bridge, logger *logrus.Logger) (*Network, error) {
	signer, err := relay.NewSigner(cfg.Secret)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	n := &Network{}

	foreignDB, err := internal.OpenDatabase(dataDir, "foreign", foreign.Buckets)
	if err != nil {
		return nil, fmt.Errorf("failed to open foreign database: %w", err)
	}

	n.databases = append(n.databases, foreignDB)

	homeDB, err := internal.OpenDatabase(dataDir, "home", home.Buckets)
	if err != nil {
		_ = n.Shutdown()

		return nil, fmt.Errorf("failed to open home database: %w", err)
	}

	n.databases = append(n.databases, homeDB)

	n.Arbitrator = arbitrator.NewCentralized(cfg.Arbitrator, logger)

	n.Foreign, err = foreign.New(foreign.Config{
		Self:       cfg.Foreign,
		Governor:   cfg.Governor,
		GasLimit:   cfg.GasLimit,
		Parameters: cfg.Parameters,
	}, foreignDB.DB, n.Arbitrator, toHome, signer, logger)
	if err != nil {
		_ = n.Shutdown()

		return nil, err //nolint:wrapcheck
	}

	n.Home = home.New(home.Config{
		Self:     cfg.Home,
		GasLimit: cfg.GasLimit,
	}, homeDB.DB, toForeign, signer, logger)

	n.Arbitrator.Bind(n.Foreign)

	err = errors.Join(
		link(n.Foreign.SetCounterparty, cfg.Home),
		link(n.Home.SetCounterparty, cfg.Foreign),
	)
	if err != nil {
		_ = n.Shutdown()

		return nil, err
	}

	n.Application = application.New(cfg.Application, n.Home, logger)
	n.Home.RegisterApplication(cfg.Application, n.Application)

	return n, nil
}

// link tolerates a counterparty already stored by an earlier run.
func link(set func(protocol.Endpoint) error, peer protocol.Endpoint) error {
	err := set(peer)
	if errors.Is(err, protocol.ErrAlreadyConfigured) {
		return nil
	}

	return err
}

// SetClock points every component at the same time source.
func (n *Network) SetClock(now func() time.Time) {
	n.Foreign.Now = now
	n.Home.Now = now
	n.Arbitrator.Now = now
	n.Application.Now = now
}

// Run keeps both outboxes flushing and relays decided requests until ctx
// is done.
func (n *Network) Run(ctx context.Context, interval time.Duration) {
	go n.Foreign.Outbox.Run(ctx, interval)

	n.Home.Run(ctx, interval)
}

func (n *Network) Shutdown() error {
	var errs []error

	for _, database := range n.databases {
		errs = append(errs, database.Shutdown())
	}

	return errors.Join(errs...)
}
