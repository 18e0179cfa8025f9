package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vreid/crossarb/internal/pkg/protocol"
)

var ErrBadSignature = fmt.Errorf("%w: bad relay signature", protocol.ErrUnauthorized)

var errEmptySecret = errors.New("relay secret must not be empty")

// Signer stands in for the bridge's authenticity guarantee: both proxies
// share the secret, nobody else does.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errEmptySecret
	}

	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) digest(e Envelope) (string, error) {
	e.Signature = ""

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	h := hmac.New(sha256.New, s.secret)
	h.Write(data)

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Signer) Seal(e *Envelope) error {
	signature, err := s.digest(*e)
	if err != nil {
		return err
	}

	e.Signature = signature

	return nil
}

func (s *Signer) Verify(e Envelope) error {
	signature, err := s.digest(e)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(e.Signature), []byte(signature)) {
		return ErrBadSignature
	}

	return nil
}
