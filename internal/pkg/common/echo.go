package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

type EchoService struct {
	echo *echo.Echo
	port int
}

func NewEchoService(i do.Injector) (*EchoService, error) {
	port := do.MustInvokeNamed[int](i, "port")

	e := echo.New()

	e.HideBanner = true
	e.HidePort = false

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${id} ${remote_ip} ${status} ${method} ${path} ${error} ${latency_human} ${bytes_in} ${bytes_out}\n",
	}))
	e.Use(middleware.Recover())

	e.GET("/metrics", echo.WrapHandler(MetricsHandler()))

	return &EchoService{
		echo: e,
		port: port,
	}, nil
}

func (s *EchoService) Register(c func(e *echo.Echo)) {
	c(s.echo)
}

func (s *EchoService) Start() error {
	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *EchoService) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shutdown echo server: %w", err)
	}

	return nil
}

// HTTPError maps a protocol rejection onto a status code clients can act on.
func HTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, protocol.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, protocol.ErrInsufficientPayment):
		return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, protocol.ErrWrongStatus),
		errors.Is(err, protocol.ErrAlreadyConfigured):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, protocol.ErrDeadlinePassed),
		errors.Is(err, protocol.ErrDeadlineNotPassed),
		errors.Is(err, protocol.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, protocol.ErrInvalidRuling),
		errors.Is(err, protocol.ErrUnknownParty):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
