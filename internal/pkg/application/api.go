package application

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
	internal "github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/home"
	"github.com/vreid/crossarb/internal/pkg/registry"
)

// NewApplicationService runs the reference application next to the home
// proxy it is registered with.
func NewApplicationService(i do.Injector) (*Application, error) {
	address := do.MustInvokeNamed[common.Address](i, "application-address")
	logger := do.MustInvoke[*logrus.Logger](i)
	homeService := do.MustInvoke[*home.HomeService](i)

	result := New(address, homeService, logger)
	homeService.RegisterApplication(address, result)

	echoService, err := do.Invoke[*internal.EchoService](i)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	echoService.Register(result.Register)

	return result, nil
}

func (a *Application) Register(e *echo.Echo) {
	applicationGroup := e.Group("/api/application")

	applicationGroup.POST("/params", a.handleRegisterParams)
	applicationGroup.POST("/items", a.handleList)
	applicationGroup.GET("/items/:id", a.handleItem)
	applicationGroup.POST("/items/:id/close", a.handleClose)
}

type paramsRequest struct {
	ItemID       *uint64       `json:"item_id,omitempty"`
	MetaEvidence string        `json:"meta_evidence"`
	ExtraData    hexutil.Bytes `json:"extra_data"`
}

type listRequest struct {
	ItemID   uint64    `json:"item_id"`
	Deadline time.Time `json:"deadline"`
}

func (a *Application) handleRegisterParams(c echo.Context) error {
	var req paramsRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	params := registry.Params{
		MetaEvidence: req.MetaEvidence,
		ExtraData:    req.ExtraData,
	}

	if req.ItemID != nil {
		err = a.RegisterItemDisputeParams(c.Request().Context(), *req.ItemID, params)
	} else {
		err = a.RegisterDisputeParams(c.Request().Context(), params)
	}

	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusCreated)
}

func (a *Application) handleList(c echo.Context) error {
	var req listRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	err = a.List(c.Request().Context(), req.ItemID, req.Deadline)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusCreated)
}

func itemParam(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}

	return id, nil
}

func (a *Application) handleItem(c echo.Context) error {
	id, err := itemParam(c)
	if err != nil {
		return err
	}

	item, err := a.Item(id)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, item)
}

func (a *Application) handleClose(c echo.Context) error {
	id, err := itemParam(c)
	if err != nil {
		return err
	}

	err = a.Close(id)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}
