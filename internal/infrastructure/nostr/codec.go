package nostrcodec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

const (
	// KindGame is the kind of the public event announcing a new game.
	KindGame = 400000

	tagExpiration = "expiration"
	tagGame       = "g"
	tagPubkey     = "p"
	tagEvent      = "e"
)

type codec struct {
	privkey string
	pubkey  string
}

// NewEnvelopeCodec returns a codec signing with the given key. The key is
// the same used to take part in games, so that the sender of an envelope is
// the x-only key recorded for the party in the game.
func NewEnvelopeCodec(key *btcec.PrivateKey) (ports.EnvelopeCodec, error) {
	if key == nil {
		return nil, fmt.Errorf("missing private key")
	}
	privkey := hex.EncodeToString(key.Serialize())
	pubkey, err := nostr.GetPublicKey(privkey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %s", err)
	}
	return &codec{privkey, pubkey}, nil
}

func (c *codec) Seal(
	event domain.Event, recipient []byte, expiration int64,
) (*ports.Envelope, error) {
	content, err := domain.EncodeEvent(event)
	if err != nil {
		return nil, err
	}

	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Tags: nostr.Tags{
			{tagExpiration, strconv.FormatInt(expiration, 10)},
		},
	}

	if len(recipient) <= 0 {
		ev.Kind = KindGame
		ev.Content = string(content)
		ev.Tags = append(ev.Tags, nostr.Tag{tagGame, event.GetGameId()})
	} else {
		if _, err := schnorr.ParsePubKey(recipient); err != nil {
			return nil, fmt.Errorf("invalid recipient: %s", err)
		}
		recipientHex := hex.EncodeToString(recipient)
		sharedSecret, err := nip04.ComputeSharedSecret(recipientHex, c.privkey)
		if err != nil {
			return nil, fmt.Errorf("failed to compute shared secret: %s", err)
		}
		encrypted, err := nip04.Encrypt(string(content), sharedSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt event: %s", err)
		}
		ev.Kind = nostr.KindEncryptedDirectMessage
		ev.Content = encrypted
		ev.Tags = append(ev.Tags, nostr.Tag{tagPubkey, recipientHex})
	}

	envelope, err := c.sign(ev)
	if err != nil {
		return nil, err
	}
	envelope.Event = event
	envelope.Expiration = expiration
	return envelope, nil
}

func (c *codec) SealDelete(envelopeId, gameId string) (*ports.Envelope, error) {
	if envelopeId == "" {
		return nil, fmt.Errorf("missing envelope id")
	}
	if gameId == "" {
		return nil, fmt.Errorf("missing game id")
	}

	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      nostr.KindDeletion,
		Tags: nostr.Tags{
			{tagEvent, envelopeId},
			{tagGame, gameId},
		},
	}
	envelope, err := c.sign(ev)
	if err != nil {
		return nil, err
	}
	envelope.DeleteEnvelopeId = envelopeId
	envelope.DeleteGameId = gameId
	return envelope, nil
}

func (c *codec) Open(data []byte) (*ports.Envelope, error) {
	var ev nostr.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("invalid envelope: %s", err)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("signature mismatch")
		}
		return nil, fmt.Errorf("invalid envelope signature: %s", err)
	}
	if ev.GetID() != ev.ID {
		return nil, fmt.Errorf("invalid envelope id")
	}

	sender, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope sender: %s", err)
	}
	envelope := &ports.Envelope{
		Id:     ev.ID,
		Sender: sender,
		Data:   data,
	}

	if ev.Kind == nostr.KindDeletion {
		envelope.DeleteEnvelopeId = tagValue(ev, tagEvent)
		envelope.DeleteGameId = tagValue(ev, tagGame)
		if envelope.DeleteEnvelopeId == "" || envelope.DeleteGameId == "" {
			return nil, fmt.Errorf("invalid delete envelope: missing tags")
		}
		return envelope, nil
	}

	expiration, err := strconv.ParseInt(tagValue(ev, tagExpiration), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope expiration: %s", err)
	}
	if expiration <= time.Now().Unix() {
		return nil, ports.ErrEnvelopeExpired
	}
	envelope.Expiration = expiration

	var content string
	switch ev.Kind {
	case KindGame:
		content = ev.Content
	case nostr.KindEncryptedDirectMessage:
		if recipient := tagValue(ev, tagPubkey); recipient != c.pubkey {
			return nil, fmt.Errorf("envelope addressed to %s", recipient)
		}
		sharedSecret, err := nip04.ComputeSharedSecret(ev.PubKey, c.privkey)
		if err != nil {
			return nil, fmt.Errorf("failed to compute shared secret: %s", err)
		}
		content, err = nip04.Decrypt(ev.Content, sharedSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt envelope: %s", err)
		}
	default:
		return nil, fmt.Errorf("unsupported envelope kind %d", ev.Kind)
	}

	event, err := domain.DecodeEvent([]byte(content))
	if err != nil {
		return nil, err
	}
	if ev.Kind == KindGame {
		if event.GetType() != domain.EventTypeGameCreated {
			return nil, fmt.Errorf("public envelope carries a %s event", event.GetType())
		}
		if gameId := tagValue(ev, tagGame); gameId != event.GetGameId() {
			return nil, domain.ErrGameIdMismatch
		}
	}
	envelope.Event = event
	return envelope, nil
}

func (c *codec) sign(ev nostr.Event) (*ports.Envelope, error) {
	if err := ev.Sign(c.privkey); err != nil {
		return nil, fmt.Errorf("failed to sign envelope: %s", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	sender, _ := hex.DecodeString(ev.PubKey)
	return &ports.Envelope{
		Id:     ev.ID,
		Sender: sender,
		Data:   data,
	}, nil
}

func tagValue(ev nostr.Event, name string) string {
	// the empty second element forces an exact match on the tag name
	tag := ev.Tags.GetFirst([]string{name, ""})
	if tag == nil {
		return ""
	}
	return tag.Value()
}
