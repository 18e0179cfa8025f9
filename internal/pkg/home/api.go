package home

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/relay"
)

func NewHomeService(i do.Injector) (*HomeService, error) {
	cfg := do.MustInvokeNamed[Config](i, "home-config")
	dataDir := do.MustInvokeNamed[string](i, "data-dir")
	counterparty := do.MustInvokeNamed[protocol.Endpoint](i, "counterparty")
	logger := do.MustInvoke[*logrus.Logger](i)
	signer := do.MustInvoke[*relay.Signer](i)
	bridge := do.MustInvoke[relay.Bridge](i)

	database, err := internal.OpenDatabase(dataDir, "home", Buckets)
	if err != nil {
		return nil, fmt.Errorf("failed to open home database: %w", err)
	}

	result := New(cfg, database.DB, bridge, signer, logger)
	result.database = database

	if !counterparty.IsZero() {
		_, err = result.Counterparty()
		if err != nil {
			err = result.SetCounterparty(counterparty)
			if err != nil {
				_ = database.Shutdown()

				return nil, err
			}
		}
	}

	echoService, err := do.Invoke[*internal.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		result.Register(e)
		relay.RegisterInbox(e, result.Inbox())
	})

	return result, nil
}

func (s *HomeService) Register(e *echo.Echo) {
	homeGroup := e.Group("/api/home")

	homeGroup.GET("/items/:application/:item", s.handleItem)
	homeGroup.POST("/items/:application/:item/relay-accepted", s.handleRelayAccepted)
	homeGroup.POST("/items/:application/:item/relay-rejected", s.handleRelayRejected)
}

func itemParams(c echo.Context) (common.Address, uint64, error) {
	value := c.Param("application")
	if !common.IsHexAddress(value) {
		return common.Address{}, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid application")
	}

	itemID, err := strconv.ParseUint(c.Param("item"), 10, 64)
	if err != nil {
		return common.Address{}, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}

	return common.HexToAddress(value), itemID, nil
}

func (s *HomeService) handleItem(c echo.Context) error {
	application, itemID, err := itemParams(c)
	if err != nil {
		return err
	}

	item, err := s.Item(application, itemID)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, item)
}

func (s *HomeService) handleRelayAccepted(c echo.Context) error {
	application, itemID, err := itemParams(c)
	if err != nil {
		return err
	}

	err = s.RelayDisputeAccepted(c.Request().Context(), application, itemID)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusAccepted)
}

func (s *HomeService) handleRelayRejected(c echo.Context) error {
	application, itemID, err := itemParams(c)
	if err != nil {
		return err
	}

	err = s.RelayDisputeRejected(c.Request().Context(), application, itemID)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusAccepted)
}
