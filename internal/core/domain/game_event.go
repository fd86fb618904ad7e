package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventTypeGameCreated    EventType = "create"
	EventTypeGameJoined     EventType = "join"
	EventTypeSetupStarted   EventType = "setupStarted"
	EventTypeSetupFinalized EventType = "setupFinalized"
	EventTypeGameFinalized  EventType = "finalize"
	EventTypeGameResolved   EventType = "resolve"
)

// Event is one of the six game events. The set is closed, only types of
// this package implement it.
type Event interface {
	GetGameId() string
	GetType() EventType
	impliedStatus() GameStatus
	validate() error
}

// HexBytes is a byte slice carried as a hex string on the wire.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	*h = b
	return nil
}

type GameEvent struct {
	Id   string    `json:"gameId"`
	Type EventType `json:"type"`
}

func (e GameEvent) GetGameId() string  { return e.Id }
func (e GameEvent) GetType() EventType { return e.Type }

func (e GameEvent) validateHeader(expected EventType) error {
	if e.Type != expected {
		return invalidf("type", "expected %s, got %s", expected, e.Type)
	}
	if strings.TrimSpace(e.Id) == "" {
		return invalidf("gameId", "missing")
	}
	return nil
}

type GameCreated struct {
	GameEvent
	CreatorPubkey        HexBytes    `json:"creatorPubkey"`
	CreatorVtxos         []VtxoInput `json:"creatorVtxos"`
	CreatorChangeAddress string      `json:"creatorChangeAddress"`
	BetAmount            uint64      `json:"betAmount,string"`
	ServerPubkey         HexBytes    `json:"serverPubkey"`
	SetupExpiration      int64       `json:"setupExpiration"`
	FinalExpiration      int64       `json:"finalExpiration"`
}

func (GameCreated) impliedStatus() GameStatus { return GameStatusCreated }

func (e GameCreated) validate() error {
	if err := e.validateHeader(EventTypeGameCreated); err != nil {
		return err
	}
	if err := validateKey("creatorPubkey", e.CreatorPubkey); err != nil {
		return err
	}
	if err := validateKey("serverPubkey", e.ServerPubkey); err != nil {
		return err
	}
	if err := validateFunding("creatorVtxos", e.CreatorVtxos); err != nil {
		return err
	}
	if e.CreatorChangeAddress == "" {
		return invalidf("creatorChangeAddress", "missing")
	}
	if e.BetAmount == 0 {
		return invalidf("betAmount", "must be positive")
	}
	if e.SetupExpiration <= 0 {
		return invalidf("setupExpiration", "must be positive")
	}
	if e.FinalExpiration <= e.SetupExpiration {
		return invalidf("finalExpiration", "must be after setup expiration")
	}
	return nil
}

type GameJoined struct {
	GameEvent
	PlayerPubkey        HexBytes    `json:"playerPubkey"`
	PlayerVtxos         []VtxoInput `json:"playerVtxos"`
	PlayerChangeAddress string      `json:"playerChangeAddress"`
	PlayerHash          HexBytes    `json:"playerHash"`
}

func (GameJoined) impliedStatus() GameStatus { return GameStatusJoined }

func (e GameJoined) validate() error {
	if err := e.validateHeader(EventTypeGameJoined); err != nil {
		return err
	}
	if err := validateKey("playerPubkey", e.PlayerPubkey); err != nil {
		return err
	}
	if err := validateFunding("playerVtxos", e.PlayerVtxos); err != nil {
		return err
	}
	if e.PlayerChangeAddress == "" {
		return invalidf("playerChangeAddress", "missing")
	}
	return validateHash("playerHash", e.PlayerHash)
}

type SetupStarted struct {
	GameEvent
	CreatorHash           HexBytes `json:"creatorHash"`
	CreatorFinalSignature HexBytes `json:"creatorFinalSignature"`
}

func (SetupStarted) impliedStatus() GameStatus { return GameStatusSetupStarted }

func (e SetupStarted) validate() error {
	if err := e.validateHeader(EventTypeSetupStarted); err != nil {
		return err
	}
	if err := validateHash("creatorHash", e.CreatorHash); err != nil {
		return err
	}
	return validateSignature("creatorFinalSignature", e.CreatorFinalSignature)
}

type SetupFinalized struct {
	GameEvent
	PlayerFinalSignature  HexBytes   `json:"playerFinalSignature"`
	PlayerSetupSignatures []HexBytes `json:"playerSetupSignatures"`
}

func (SetupFinalized) impliedStatus() GameStatus { return GameStatusSetupFinalized }

func (e SetupFinalized) validate() error {
	if err := e.validateHeader(EventTypeSetupFinalized); err != nil {
		return err
	}
	if err := validateSignature("playerFinalSignature", e.PlayerFinalSignature); err != nil {
		return err
	}
	return validateSignatures("playerSetupSignatures", e.PlayerSetupSignatures)
}

type GameFinalized struct {
	GameEvent
	CreatorSetupSignatures []HexBytes `json:"creatorSetupSignatures"`
}

func (GameFinalized) impliedStatus() GameStatus { return GameStatusFinalized }

func (e GameFinalized) validate() error {
	if err := e.validateHeader(EventTypeGameFinalized); err != nil {
		return err
	}
	return validateSignatures("creatorSetupSignatures", e.CreatorSetupSignatures)
}

type GameResolved struct {
	GameEvent
	PlayerSecret HexBytes `json:"playerSecret"`
}

func (GameResolved) impliedStatus() GameStatus { return GameStatusResolved }

func (e GameResolved) validate() error {
	if err := e.validateHeader(EventTypeGameResolved); err != nil {
		return err
	}
	if len(e.PlayerSecret) == 0 {
		return invalidf("playerSecret", "missing")
	}
	return nil
}

// DecodeEvent parses a wire event, dispatching on its type tag. Any decode
// or validation failure is returned as a *ValidationError.
func DecodeEvent(data []byte) (Event, error) {
	var header GameEvent
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, invalid("event", err)
	}

	var event Event
	var err error
	switch header.Type {
	case EventTypeGameCreated:
		var e GameCreated
		err = json.Unmarshal(data, &e)
		e.ServerPubkey = xOnly(e.ServerPubkey)
		event = e
	case EventTypeGameJoined:
		var e GameJoined
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeSetupStarted:
		var e SetupStarted
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeSetupFinalized:
		var e SetupFinalized
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeGameFinalized:
		var e GameFinalized
		err = json.Unmarshal(data, &e)
		event = e
	case EventTypeGameResolved:
		var e GameResolved
		err = json.Unmarshal(data, &e)
		event = e
	default:
		return nil, invalid("type", fmt.Errorf("%w %q", ErrUnknownEventType, header.Type))
	}
	if err != nil {
		return nil, invalid(string(header.Type)+" event", err)
	}

	if err := event.validate(); err != nil {
		return nil, err
	}
	return event, nil
}

func EncodeEvent(event Event) ([]byte, error) {
	if event == nil {
		return nil, invalidf("event", "missing")
	}
	if err := event.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(event)
}

// xOnly strips the parity byte of a compressed key.
func xOnly(key []byte) []byte {
	if len(key) == 33 && (key[0] == 0x02 || key[0] == 0x03) {
		return key[1:]
	}
	return key
}

func validateKey(field string, key []byte) error {
	if len(key) != 32 {
		return invalidf(field, "expected 32 bytes x-only key, got %d bytes", len(key))
	}
	return nil
}

func validateHash(field string, hash []byte) error {
	if len(hash) != 32 {
		return invalidf(field, "expected 32 bytes hash, got %d bytes", len(hash))
	}
	return nil
}

func validateSignature(field string, sig []byte) error {
	if len(sig) != 64 {
		return invalidf(field, "expected 64 bytes signature, got %d bytes", len(sig))
	}
	return nil
}

func validateSignatures(field string, sigs []HexBytes) error {
	if len(sigs) == 0 {
		return invalidf(field, "missing")
	}
	for i, sig := range sigs {
		if err := validateSignature(fmt.Sprintf("%s[%d]", field, i), sig); err != nil {
			return err
		}
	}
	return nil
}

func validateFunding(field string, vtxos []VtxoInput) error {
	if len(vtxos) == 0 {
		return invalidf(field, "missing")
	}
	for _, v := range vtxos {
		if err := v.validate(); err != nil {
			return invalid(field, err)
		}
	}
	return nil
}
