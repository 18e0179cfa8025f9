package home

import (
	"context"
	"fmt"

	"github.com/vreid/crossarb/internal/pkg/relay"
)

func (s *HomeService) Dispatch(ctx context.Context, envelope relay.Envelope) error {
	call := envelope.Call()

	switch envelope.Kind {
	case relay.KindDisputeRequest:
		var payload relay.DisputeRequest

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveDisputeRequest(ctx, call, payload.Application, payload.ItemID, payload.Plaintiff)
	case relay.KindDisputeCreated:
		var payload relay.DisputeCreated

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveDisputeCreated(ctx, call, payload.Application, payload.ItemID, payload.Arbitrator, payload.DisputeID)
	case relay.KindDisputeFailed:
		var payload relay.DisputeFailed

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveDisputeFailed(ctx, call, payload.Application, payload.ItemID)
	case relay.KindRuling:
		var payload relay.Ruling

		err := envelope.Decode(&payload)
		if err != nil {
			return err //nolint:wrapcheck
		}

		return s.ReceiveRuling(ctx, call, payload.Application, payload.ItemID, payload.Ruling)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, envelope.Kind)
	}
}
