package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/labstack/echo/v4"
	"github.com/vreid/crossarb/internal/pkg/common"
)

const InboxPath = "/api/relay/inbox"

var ErrPeerRejected = errors.New("relay: peer rejected envelope")

// HTTPBridge posts envelopes to the peer proxy's inbox endpoint.
type HTTPBridge struct {
	client *resty.Client
}

func NewHTTPBridge(peerURL string, timeout time.Duration) *HTTPBridge {
	client := resty.New().
		SetBaseURL(peerURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")

	return &HTTPBridge{client: client}
}

func (b *HTTPBridge) Send(ctx context.Context, envelope Envelope) error {
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(envelope).
		Post(InboxPath)
	if err != nil {
		return fmt.Errorf("failed to post envelope: %w", err)
	}

	// The bridge has done its job once the peer saw the message, even when
	// the peer's precondition check refused to execute it.
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", ErrPeerRejected, resp.Status())
	}

	return nil
}

// RegisterInbox exposes receiver on InboxPath.
func RegisterInbox(e *echo.Echo, receiver Receiver) {
	e.POST(InboxPath, func(c echo.Context) error {
		var envelope Envelope

		err := c.Bind(&envelope)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid envelope")
		}

		err = receiver.Deliver(c.Request().Context(), envelope)
		if err != nil {
			return common.HTTPError(err)
		}

		return c.NoContent(http.StatusAccepted)
	})
}
