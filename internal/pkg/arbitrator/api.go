package arbitrator

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

func NewArbitratorService(i do.Injector) (*Centralized, error) {
	cfg := do.MustInvokeNamed[Config](i, "arbitrator-config")
	logger := do.MustInvoke[*logrus.Logger](i)

	result := NewCentralized(cfg, logger)

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Register)

	return result, nil
}

func (a *Centralized) Register(e *echo.Echo) {
	arbitratorGroup := e.Group("/api/arbitrator")

	arbitratorGroup.GET("/disputes/:id", a.handleDispute)
	arbitratorGroup.POST("/disputes/:id/ruling", a.handleGiveRuling)
	arbitratorGroup.POST("/disputes/:id/execute", a.handleExecuteRuling)
}

type rulingRequest struct {
	Ruling protocol.Party `json:"ruling"`
}

func disputeParam(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid dispute id")
	}

	return id, nil
}

func (a *Centralized) handleDispute(c echo.Context) error {
	id, err := disputeParam(c)
	if err != nil {
		return err
	}

	dispute, err := a.Dispute(id)
	if err != nil {
		return common.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, dispute)
}

func (a *Centralized) handleGiveRuling(c echo.Context) error {
	id, err := disputeParam(c)
	if err != nil {
		return err
	}

	var req rulingRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	err = a.GiveRuling(c.Request().Context(), id, req.Ruling)
	if err != nil {
		return common.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}

func (a *Centralized) handleExecuteRuling(c echo.Context) error {
	id, err := disputeParam(c)
	if err != nil {
		return err
	}

	err = a.ExecuteRuling(c.Request().Context(), id)
	if err != nil {
		return common.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}
