package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"github.com/vreid/crossarb/internal/pkg/application"
	"github.com/vreid/crossarb/internal/pkg/arbitrator"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/devnet"
	"github.com/vreid/crossarb/internal/pkg/foreign"
	"github.com/vreid/crossarb/internal/pkg/home"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/relay"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrUnknownTransport = errors.New("unknown relay transport")
)

type ForeignNode struct {
	EchoService *common.EchoService `do:""`

	ForeignService *foreign.ForeignService `do:""`
	Arbitrator     *arbitrator.Centralized `do:""`
}

type HomeNode struct {
	EchoService *common.EchoService `do:""`

	HomeService *home.HomeService        `do:""`
	Application *application.Application `do:""`
}

type DevnetNode struct {
	EchoService *common.EchoService `do:""`

	DevnetService *devnet.DevnetService `do:""`
}

func address(cmd *cli.Command, name string) (gethcommon.Address, error) {
	value := cmd.String(name)
	if !gethcommon.IsHexAddress(value) {
		return gethcommon.Address{}, fmt.Errorf("%w: --%s %q", ErrInvalidAddress, name, value)
	}

	return gethcommon.HexToAddress(value), nil
}

func amount(cmd *cli.Command, name string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(cmd.String(name), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: --%s %q", ErrInvalidAmount, name, cmd.String(name))
	}

	return value, nil
}

func endpoint(cmd *cli.Command, chainFlag, addressFlag string) (protocol.Endpoint, error) {
	if cmd.String(addressFlag) == "" {
		return protocol.Endpoint{}, nil
	}

	addr, err := address(cmd, addressFlag)
	if err != nil {
		return protocol.Endpoint{}, err
	}

	return protocol.Endpoint{
		Chain:   protocol.ChainID(cmd.Uint64(chainFlag)),
		Address: addr,
	}, nil
}

func foreignParameters(cmd *cli.Command) foreign.Parameters {
	return foreign.Parameters{
		FeeDepositTimeout: cmd.Duration("fee-deposit-timeout"),
		Multipliers: foreign.Multipliers{
			Shared: cmd.Uint64("shared-multiplier"),
			Winner: cmd.Uint64("winner-multiplier"),
			Loser:  cmd.Uint64("loser-multiplier"),
		},
	}
}

func arbitratorConfig(cmd *cli.Command) (arbitrator.Config, error) {
	addr, err := address(cmd, "arbitrator-address")
	if err != nil {
		return arbitrator.Config{}, err
	}

	feePerJuror, err := amount(cmd, "fee-per-juror")
	if err != nil {
		return arbitrator.Config{}, err
	}

	appealFee, err := amount(cmd, "appeal-fee")
	if err != nil {
		return arbitrator.Config{}, err
	}

	return arbitrator.Config{
		Address:      addr,
		FeePerJuror:  feePerJuror,
		AppealFee:    appealFee,
		MaxJurors:    cmd.Uint64("max-jurors"),
		AppealPeriod: cmd.Duration("appeal-period"),
	}, nil
}

func newInjector(cmd *cli.Command) do.Injector {
	i := do.New()

	do.ProvideNamedValue(i, "port", cmd.Int("port"))
	do.ProvideNamedValue(i, "data-dir", cmd.String("data-dir"))
	do.ProvideNamedValue(i, "log-level", cmd.String("log-level"))
	do.ProvideNamedValue(i, "log-json", cmd.Bool("log-json"))

	do.Provide(i, common.NewLogger)
	do.Provide(i, common.NewEchoService)

	return i
}

// provideRelay wires the signer and the bridge to the peer proxy. The
// valkey bridge is returned so the caller can consume its own queue.
func provideRelay(i do.Injector, cmd *cli.Command) (*relay.ValkeyBridge, error) {
	secret := cmd.String("relay-secret")

	do.Provide(i, func(_ do.Injector) (*relay.Signer, error) {
		return relay.NewSigner(secret) //nolint:wrapcheck
	})

	switch transport := cmd.String("relay-transport"); transport {
	case "http":
		do.ProvideValue[relay.Bridge](i, relay.NewHTTPBridge(cmd.String("relay-peer-url"), cmd.Duration("relay-timeout")))

		return nil, nil //nolint:nilnil
	case "valkey":
		logger, err := do.Invoke[*logrus.Logger](i)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		bridge, err := relay.NewValkeyBridge(cmd.String("valkey-address"), cmd.String("valkey-prefix"), logger)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		do.ProvideValue[relay.Bridge](i, bridge)

		return bridge, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}
}

// consume delivers envelopes queued in valkey to the local inbox.
func consume(ctx context.Context, bridge *relay.ValkeyBridge, self protocol.Endpoint, receiver relay.Receiver) {
	if bridge == nil {
		return
	}

	go bridge.Consume(ctx, self, receiver)
}

// serve runs echo until the process is signalled, then shuts it down.
func serve(ctx context.Context, echoService *common.EchoService) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd
		defer cancel()

		_ = echoService.Shutdown(shutdownCtx)
	}()

	//nolint:wrapcheck
	return echoService.Start()
}

func runForeign(ctx context.Context, cmd *cli.Command) error {
	i := newInjector(cmd)

	self, err := endpoint(cmd, "chain-id", "proxy-address")
	if err != nil {
		return err
	}

	peer, err := endpoint(cmd, "peer-chain-id", "peer-address")
	if err != nil {
		return err
	}

	governor, err := address(cmd, "governor")
	if err != nil {
		return err
	}

	court, err := arbitratorConfig(cmd)
	if err != nil {
		return err
	}

	do.ProvideNamedValue(i, "counterparty", peer)
	do.ProvideNamedValue(i, "arbitrator-config", court)
	do.ProvideNamedValue(i, "foreign-config", foreign.Config{
		Self:       self,
		Governor:   governor,
		GasLimit:   cmd.Uint64("gas-limit"),
		Parameters: foreignParameters(cmd),
	})

	valkeyBridge, err := provideRelay(i, cmd)
	if err != nil {
		return err
	}

	if valkeyBridge != nil {
		defer valkeyBridge.Close()
	}

	do.Provide(i, arbitrator.NewArbitratorService)
	do.Provide(i, func(i do.Injector) (foreign.Arbitrator, error) {
		court, err := do.Invoke[*arbitrator.Centralized](i)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		return court, nil
	})
	do.Provide(i, foreign.NewForeignService)

	do.Provide(i, do.InvokeStruct[ForeignNode])

	node, err := do.Invoke[ForeignNode](i)
	if err != nil {
		return fmt.Errorf("failed to create foreign node: %w", err)
	}

	defer func() {
		_ = node.ForeignService.Shutdown()
	}()

	node.Arbitrator.Bind(node.ForeignService)

	consume(ctx, valkeyBridge, self, node.ForeignService.Inbox())

	go node.ForeignService.Outbox.Run(ctx, cmd.Duration("relay-interval"))

	return serve(ctx, node.EchoService)
}

func runHome(ctx context.Context, cmd *cli.Command) error {
	i := newInjector(cmd)

	self, err := endpoint(cmd, "chain-id", "proxy-address")
	if err != nil {
		return err
	}

	peer, err := endpoint(cmd, "peer-chain-id", "peer-address")
	if err != nil {
		return err
	}

	app, err := address(cmd, "application-address")
	if err != nil {
		return err
	}

	do.ProvideNamedValue(i, "counterparty", peer)
	do.ProvideNamedValue(i, "application-address", app)
	do.ProvideNamedValue(i, "home-config", home.Config{
		Self:     self,
		GasLimit: cmd.Uint64("gas-limit"),
	})

	valkeyBridge, err := provideRelay(i, cmd)
	if err != nil {
		return err
	}

	if valkeyBridge != nil {
		defer valkeyBridge.Close()
	}

	do.Provide(i, home.NewHomeService)
	do.Provide(i, application.NewApplicationService)

	do.Provide(i, do.InvokeStruct[HomeNode])

	node, err := do.Invoke[HomeNode](i)
	if err != nil {
		return fmt.Errorf("failed to create home node: %w", err)
	}

	defer func() {
		_ = node.HomeService.Shutdown()
	}()

	consume(ctx, valkeyBridge, self, node.HomeService.Inbox())

	go node.HomeService.Run(ctx, cmd.Duration("relay-interval"))

	return serve(ctx, node.EchoService)
}

func runDevnet(ctx context.Context, cmd *cli.Command) error {
	i := newInjector(cmd)

	governor, err := address(cmd, "governor")
	if err != nil {
		return err
	}

	app, err := address(cmd, "application-address")
	if err != nil {
		return err
	}

	court, err := arbitratorConfig(cmd)
	if err != nil {
		return err
	}

	foreignProxy, err := address(cmd, "foreign-address")
	if err != nil {
		return err
	}

	homeProxy, err := address(cmd, "home-address")
	if err != nil {
		return err
	}

	do.ProvideNamedValue(i, "relay-interval", cmd.Duration("relay-interval"))
	do.ProvideNamedValue(i, "devnet-config", devnet.Config{
		Foreign:     protocol.Endpoint{Chain: protocol.ChainID(cmd.Uint64("foreign-chain-id")), Address: foreignProxy},
		Home:        protocol.Endpoint{Chain: protocol.ChainID(cmd.Uint64("home-chain-id")), Address: homeProxy},
		Application: app,
		Governor:    governor,
		Secret:      cmd.String("relay-secret"),
		GasLimit:    cmd.Uint64("gas-limit"),
		Parameters:  foreignParameters(cmd),
		Arbitrator:  court,
	})

	do.Provide(i, devnet.NewDevnetService)

	do.Provide(i, do.InvokeStruct[DevnetNode])

	node, err := do.Invoke[DevnetNode](i)
	if err != nil {
		return fmt.Errorf("failed to create devnet: %w", err)
	}

	defer func() {
		_ = node.DevnetService.Shutdown()
	}()

	node.DevnetService.Start(ctx)

	return serve(ctx, node.EchoService)
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Value:   3000, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_PORT"),
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Value:   "./crossarb/data",
			Sources: cli.EnvVars("CROSSARB_DATA_DIR"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Sources: cli.EnvVars("CROSSARB_LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:    "log-json",
			Sources: cli.EnvVars("CROSSARB_LOG_JSON"),
		},
		&cli.StringFlag{
			Name:    "relay-secret",
			Value:   "secret",
			Sources: cli.EnvVars("CROSSARB_RELAY_SECRET"),
		},
		&cli.DurationFlag{
			Name:    "relay-interval",
			Value:   5 * time.Second, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_RELAY_INTERVAL"),
		},
		&cli.Uint64Flag{
			Name:    "gas-limit",
			Value:   relay.DefaultGasLimit,
			Sources: cli.EnvVars("CROSSARB_GAS_LIMIT"),
		},
	}
}

func proxyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:    "chain-id",
			Sources: cli.EnvVars("CROSSARB_CHAIN_ID"),
		},
		&cli.StringFlag{
			Name:     "proxy-address",
			Required: true,
			Sources:  cli.EnvVars("CROSSARB_PROXY_ADDRESS"),
		},
		&cli.Uint64Flag{
			Name:    "peer-chain-id",
			Sources: cli.EnvVars("CROSSARB_PEER_CHAIN_ID"),
		},
		&cli.StringFlag{
			Name:    "peer-address",
			Sources: cli.EnvVars("CROSSARB_PEER_ADDRESS"),
		},
		&cli.StringFlag{
			Name:    "relay-peer-url",
			Value:   "http://localhost:3001",
			Sources: cli.EnvVars("CROSSARB_RELAY_PEER_URL"),
		},
		&cli.StringFlag{
			Name:    "relay-transport",
			Value:   "http",
			Usage:   "http or valkey",
			Sources: cli.EnvVars("CROSSARB_RELAY_TRANSPORT"),
		},
		&cli.StringFlag{
			Name:    "valkey-address",
			Value:   "localhost:6379",
			Sources: cli.EnvVars("CROSSARB_VALKEY_ADDRESS"),
		},
		&cli.StringFlag{
			Name:    "valkey-prefix",
			Value:   relay.DefaultQueuePrefix,
			Sources: cli.EnvVars("CROSSARB_VALKEY_PREFIX"),
		},
		&cli.DurationFlag{
			Name:    "relay-timeout",
			Value:   10 * time.Second, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_RELAY_TIMEOUT"),
		},
	}
}

func foreignFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "governor",
			Value:   "0x0000000000000000000000000000000000000000",
			Sources: cli.EnvVars("CROSSARB_GOVERNOR"),
		},
		&cli.DurationFlag{
			Name:    "fee-deposit-timeout",
			Value:   time.Hour,
			Sources: cli.EnvVars("CROSSARB_FEE_DEPOSIT_TIMEOUT"),
		},
		&cli.Uint64Flag{
			Name:    "shared-multiplier",
			Value:   10000, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_SHARED_MULTIPLIER"),
		},
		&cli.Uint64Flag{
			Name:    "winner-multiplier",
			Value:   10000, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_WINNER_MULTIPLIER"),
		},
		&cli.Uint64Flag{
			Name:    "loser-multiplier",
			Value:   20000, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_LOSER_MULTIPLIER"),
		},
		&cli.StringFlag{
			Name:    "arbitrator-address",
			Value:   "0x00000000000000000000000000000000000a4b17",
			Sources: cli.EnvVars("CROSSARB_ARBITRATOR_ADDRESS"),
		},
		&cli.StringFlag{
			Name:    "fee-per-juror",
			Value:   "1000000000000000000",
			Sources: cli.EnvVars("CROSSARB_FEE_PER_JUROR"),
		},
		&cli.StringFlag{
			Name:    "appeal-fee",
			Value:   "1000000000000000000",
			Sources: cli.EnvVars("CROSSARB_APPEAL_FEE"),
		},
		&cli.Uint64Flag{
			Name:    "max-jurors",
			Value:   3, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_MAX_JURORS"),
		},
		&cli.DurationFlag{
			Name:    "appeal-period",
			Value:   time.Hour,
			Sources: cli.EnvVars("CROSSARB_APPEAL_PERIOD"),
		},
	}
}

func applicationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "application-address",
		Value:   "0x00000000000000000000000000000000000a9911",
		Sources: cli.EnvVars("CROSSARB_APPLICATION_ADDRESS"),
	}
}

func devnetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:    "foreign-chain-id",
			Value:   1,
			Sources: cli.EnvVars("CROSSARB_FOREIGN_CHAIN_ID"),
		},
		&cli.StringFlag{
			Name:    "foreign-address",
			Value:   "0x0000000000000000000000000000000000002002",
			Sources: cli.EnvVars("CROSSARB_FOREIGN_ADDRESS"),
		},
		&cli.Uint64Flag{
			Name:    "home-chain-id",
			Value:   100, //nolint:mnd
			Sources: cli.EnvVars("CROSSARB_HOME_CHAIN_ID"),
		},
		&cli.StringFlag{
			Name:    "home-address",
			Value:   "0x0000000000000000000000000000000000001001",
			Sources: cli.EnvVars("CROSSARB_HOME_ADDRESS"),
		},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, group := range groups {
		out = append(out, group...)
	}

	return out
}

func main() {
	//nolint:exhaustruct
	cmd := &cli.Command{
		Name:  "crossarb",
		Usage: "cross-chain arbitration proxies",
		Commands: []*cli.Command{
			{
				Name:   "foreign",
				Usage:  "run the proxy next to the arbitrator",
				Flags:  flags(commonFlags(), proxyFlags(), foreignFlags()),
				Action: runForeign,
			},
			{
				Name:   "home",
				Usage:  "run the proxy next to the arbitrable application",
				Flags:  flags(commonFlags(), proxyFlags(), []cli.Flag{applicationFlag()}),
				Action: runHome,
			},
			{
				Name:   "devnet",
				Usage:  "run both proxies, the arbitrator and the application in one process",
				Flags:  flags(commonFlags(), foreignFlags(), devnetFlags(), []cli.Flag{applicationFlag()}),
				Action: runDevnet,
			},
		},
		DefaultCommand: "devnet",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Run(ctx, os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
