package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"
	"github.com/vreid/crossarb/internal/pkg/protocol"
)

const DefaultQueuePrefix = "crossarb:relay"

// QueueKey is the list a proxy consumes its inbound envelopes from.
func QueueKey(prefix string, target protocol.Endpoint) string {
	if prefix == "" {
		prefix = DefaultQueuePrefix
	}

	return fmt.Sprintf("%s:%d:%s", prefix, uint64(target.Chain), target.Address.Hex())
}

// ValkeyBridge pushes envelopes onto the target proxy's list. Both proxies
// share the valkey instance.
type ValkeyBridge struct {
	Client valkey.Client
	Prefix string
	Logger *logrus.Logger
}

func NewValkeyBridge(address, prefix string, logger *logrus.Logger) (*ValkeyBridge, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{address},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return &ValkeyBridge{
		Client: client,
		Prefix: prefix,
		Logger: logger,
	}, nil
}

func (b *ValkeyBridge) Send(ctx context.Context, envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	cmd := b.Client.B().Rpush().Key(QueueKey(b.Prefix, envelope.Target)).Element(string(data)).Build()

	err = b.Client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to push envelope: %w", err)
	}

	return nil
}

// Consume pops envelopes addressed to self and delivers them until ctx is
// done. Rejected envelopes are logged and dropped.
func (b *ValkeyBridge) Consume(ctx context.Context, self protocol.Endpoint, receiver Receiver) {
	key := QueueKey(b.Prefix, self)

	for {
		if ctx.Err() != nil {
			return
		}

		cmd := b.Client.B().Blpop().Key(key).Timeout(1).Build()

		values, err := b.Client.Do(ctx, cmd).AsStrSlice()
		if err != nil {
			if !valkey.IsValkeyNil(err) && !errors.Is(err, context.Canceled) {
				b.Logger.WithError(err).Warn("relay queue read failed")
				time.Sleep(time.Second)
			}

			continue
		}

		// BLPOP answers with the key and the value
		if len(values) != 2 { //nolint:mnd
			continue
		}

		var envelope Envelope

		err = json.Unmarshal([]byte(values[1]), &envelope)
		if err != nil {
			b.Logger.WithError(err).Warn("dropping undecodable relay envelope")

			continue
		}

		err = receiver.Deliver(ctx, envelope)
		if err != nil {
			b.Logger.WithError(err).
				WithField("id", envelope.ID).
				WithField("kind", envelope.Kind).
				Warn("relay delivery rejected")
		}
	}
}

func (b *ValkeyBridge) Close() {
	b.Client.Close()
}
