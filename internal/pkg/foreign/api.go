package foreign

import (
	"fmt"
	"math/big"
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

// NewForeignService builds the foreign proxy from the injector and mounts
// its API and relay inbox on the echo service.
func NewForeignService(i do.Injector) (*ForeignService, error) {
	cfg := do.MustInvokeNamed[Config](i, "foreign-config")
	dataDir := do.MustInvokeNamed[string](i, "data-dir")
	counterparty := do.MustInvokeNamed[protocol.Endpoint](i, "counterparty")
	logger := do.MustInvoke[*logrus.Logger](i)
	signer := do.MustInvoke[*relay.Signer](i)
	bridge := do.MustInvoke[relay.Bridge](i)
	arbitrator := do.MustInvoke[Arbitrator](i)

	database, err := internal.OpenDatabase(dataDir, "foreign", Buckets)
	if err != nil {
		return nil, fmt.Errorf("failed to open foreign database: %w", err)
	}

	result, err := New(cfg, database.DB, arbitrator, bridge, signer, logger)
	if err != nil {
		_ = database.Shutdown()

		return nil, err
	}

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

func (s *ForeignService) Shutdown() error {
	if s.database == nil {
		return nil
	}

	return s.database.Shutdown()
}

func (s *ForeignService) Register(e *echo.Echo) {
	foreignGroup := e.Group("/api/foreign")

	foreignGroup.POST("/disputes", s.handleRequestDispute)
	foreignGroup.GET("/arbitrations/:id", s.handleArbitration)
	foreignGroup.POST("/arbitrations/:id/defendant", s.handleFundDefendant)
	foreignGroup.POST("/arbitrations/:id/plaintiff-win", s.handleClaimPlaintiffWin)
	foreignGroup.POST("/arbitrations/:id/appeal", s.handleFundAppeal)
	foreignGroup.GET("/arbitrations/:id/appeal-fee/:party", s.handleAppealFee)
	foreignGroup.POST("/arbitrations/:id/withdraw", s.handleWithdraw)
	foreignGroup.GET("/arbitrations/:id/withdrawable/:address", s.handleTotalWithdrawable)
	foreignGroup.POST("/arbitrations/:id/evidence", s.handleSubmitEvidence)
	foreignGroup.GET("/arbitrations/:id/evidence", s.handleEvidence)
	foreignGroup.GET("/balances/:address", s.handleBalance)
	foreignGroup.GET("/cost/:application/:item", s.handleArbitrationCost)
}

type requestDisputeRequest struct {
	Application common.Address `json:"application"`
	ItemID      uint64         `json:"item_id"`
	Plaintiff   common.Address `json:"plaintiff"`
	Payment     *big.Int       `json:"payment"`
}

type contributionRequest struct {
	Party       protocol.Party `json:"party,omitempty"`
	Contributor common.Address `json:"contributor"`
	Payment     *big.Int       `json:"payment"`
}

type withdrawRequest struct {
	Beneficiary common.Address `json:"beneficiary"`
	Round       *int           `json:"round,omitempty"`
	Cursor      int            `json:"cursor"`
	Count       int            `json:"count"`
}

type evidenceRequest struct {
	Submitter common.Address `json:"submitter"`
	URI       string         `json:"uri"`
}

type amountResponse struct {
	Amount *big.Int `json:"amount"`
}

func (s *ForeignService) handleRequestDispute(c echo.Context) error {
	var req requestDisputeRequest

	err := c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	id, err := s.RequestDispute(c.Request().Context(), req.Application, req.ItemID, req.Plaintiff, req.Payment)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusCreated, map[string]common.Hash{"id": id})
}

func (s *ForeignService) handleArbitration(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	arbitration, err := s.Arbitration(id)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, arbitration)
}

func (s *ForeignService) handleFundDefendant(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	var req contributionRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	status, err := s.FundDefendant(c.Request().Context(), id, req.Contributor, req.Payment)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]Status{"status": status})
}

func (s *ForeignService) handleClaimPlaintiffWin(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	err = s.ClaimPlaintiffWin(c.Request().Context(), id)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusNoContent)
}

func (s *ForeignService) handleFundAppeal(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	var req contributionRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	receipt, err := s.FundAppeal(c.Request().Context(), id, req.Party, req.Contributor, req.Payment)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, map[string]any{
		"applied":    receipt.Applied,
		"refunded":   receipt.Remainder,
		"paid":       receipt.PaidFees,
		"required":   receipt.Required,
		"fully_paid": receipt.Completed,
	})
}

func (s *ForeignService) handleAppealFee(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	party, err := protocol.ParseParty(c.Param("party"))
	if err != nil {
		return internal.HTTPError(err)
	}

	fee, err := s.AppealFee(c.Request().Context(), id, party)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, fee)
}

func (s *ForeignService) handleWithdraw(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	var req withdrawRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	var amount *big.Int

	if req.Round != nil {
		amount, err = s.Withdraw(c.Request().Context(), id, req.Beneficiary, *req.Round)
	} else {
		amount, err = s.BatchWithdraw(c.Request().Context(), id, req.Beneficiary, req.Cursor, req.Count)
	}

	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, amountResponse{Amount: amount})
}

func (s *ForeignService) handleTotalWithdrawable(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	beneficiary, err := addressParam(c, "address")
	if err != nil {
		return err
	}

	amount, err := s.TotalWithdrawable(id, beneficiary)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, amountResponse{Amount: amount})
}

func (s *ForeignService) handleSubmitEvidence(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	var req evidenceRequest

	err = c.Bind(&req)
	if err != nil || req.URI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	err = s.SubmitEvidence(c.Request().Context(), id, req.Submitter, req.URI)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.NoContent(http.StatusAccepted)
}

func (s *ForeignService) handleEvidence(c echo.Context) error {
	id, err := hashParam(c, "id")
	if err != nil {
		return err
	}

	evidence, err := s.Evidence(id)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, evidence)
}

func (s *ForeignService) handleBalance(c echo.Context) error {
	addr, err := addressParam(c, "address")
	if err != nil {
		return err
	}

	balance, err := s.Balance(addr)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, amountResponse{Amount: balance})
}

func (s *ForeignService) handleArbitrationCost(c echo.Context) error {
	application, err := addressParam(c, "application")
	if err != nil {
		return err
	}

	itemID, err := strconv.ParseUint(c.Param("item"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}

	cost, err := s.ArbitrationCost(c.Request().Context(), application, itemID)
	if err != nil {
		return internal.HTTPError(err)
	}

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, amountResponse{Amount: cost})
}

func hashParam(c echo.Context, name string) (common.Hash, error) {
	var h common.Hash

	err := h.UnmarshalText([]byte(c.Param(name)))
	if err != nil {
		return common.Hash{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}

	return h, nil
}

func addressParam(c echo.Context, name string) (common.Address, error) {
	value := c.Param(name)
	if !common.IsHexAddress(value) {
		return common.Address{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}

	return common.HexToAddress(value), nil
}
