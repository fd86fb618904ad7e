package ports

import (
	"errors"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
)

var ErrEnvelopeExpired = errors.New("envelope expired")

// Envelope is a signed transport message, either carrying a game event or
// requesting the deletion of a previously published one.
type Envelope struct {
	Id     string
	Sender []byte
	Data   []byte
	// Event is nil for delete requests.
	Event        domain.Event
	DeleteGameId string
	// DeleteEnvelopeId is the id of the envelope to delete.
	DeleteEnvelopeId string
	Expiration       int64
}

type EnvelopeCodec interface {
	// Seal signs the event. A nil recipient publishes it in clear, otherwise
	// the content is encrypted for the recipient x-only key.
	Seal(event domain.Event, recipient []byte, expiration int64) (*Envelope, error)
	SealDelete(envelopeId, gameId string) (*Envelope, error)
	// Open verifies the signature and the expiration of an envelope and
	// decodes its content.
	Open(data []byte) (*Envelope, error)
}
