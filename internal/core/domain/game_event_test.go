package domain_test

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestEventCodec(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		for _, event := range fullGameEvents(t) {
			t.Run(string(event.GetType()), func(t *testing.T) {
				data, err := domain.EncodeEvent(event)
				require.NoError(t, err)

				decoded, err := domain.DecodeEvent(data)
				require.NoError(t, err)
				require.Equal(t, event, decoded)
			})
		}
	})

	t.Run("wire format", func(t *testing.T) {
		game := newCreatedGame(t)
		event, err := game.Join(playerPubkey, playerVtxos(t, betAmount), changeAddress, playerHash)
		require.NoError(t, err)

		data, err := domain.EncodeEvent(event)
		require.NoError(t, err)

		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &raw))
		require.Equal(t, game.Id, raw["gameId"])
		require.Equal(t, "join", raw["type"])
		require.Equal(t, hex.EncodeToString(playerPubkey), raw["playerPubkey"])
		require.Equal(t, hex.EncodeToString(playerHash), raw["playerHash"])
		require.Equal(t, changeAddress, raw["playerChangeAddress"])

		vtxos, ok := raw["playerVtxos"].([]interface{})
		require.True(t, ok)
		require.Len(t, vtxos, 1)
		vtxo := vtxos[0].(map[string]interface{})["vtxo"].(map[string]interface{})
		require.Equal(t, fmt.Sprint(betAmount), vtxo["amount"])
	})

	t.Run("server pubkey with parity byte", func(t *testing.T) {
		data := createdEventJSON(t, func(raw map[string]interface{}) {
			raw["serverPubkey"] = hex.EncodeToString(serverKey.PubKey().SerializeCompressed())
		})

		event, err := domain.DecodeEvent(data)
		require.NoError(t, err)
		created, ok := event.(domain.GameCreated)
		require.True(t, ok)
		require.Equal(t, domain.HexBytes(serverPubkey), created.ServerPubkey)
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name        string
			data        []byte
			expectedErr error
			field       string
		}{
			{
				name:  "malformed json",
				data:  []byte(`{"gameId": "id", "type": `),
				field: "event",
			},
			{
				name:        "unknown type",
				data:        []byte(`{"gameId": "id", "type": "cancel"}`),
				expectedErr: domain.ErrUnknownEventType,
				field:       "type",
			},
			{
				name:        "missing type",
				data:        []byte(`{"gameId": "id"}`),
				expectedErr: domain.ErrUnknownEventType,
				field:       "type",
			},
			{
				name: "bad hex",
				data: createdEventJSON(t, func(raw map[string]interface{}) {
					raw["creatorPubkey"] = "zz"
				}),
				field: "create event",
			},
			{
				name: "wrong field type",
				data: createdEventJSON(t, func(raw map[string]interface{}) {
					raw["setupExpiration"] = "tomorrow"
				}),
				field: "create event",
			},
			{
				name: "bet amount as number",
				data: createdEventJSON(t, func(raw map[string]interface{}) {
					raw["betAmount"] = betAmount
				}),
				field: "create event",
			},
			{
				name: "missing game id",
				data: createdEventJSON(t, func(raw map[string]interface{}) {
					delete(raw, "gameId")
				}),
				field: "gameId",
			},
			{
				name: "missing vtxos",
				data: createdEventJSON(t, func(raw map[string]interface{}) {
					raw["creatorVtxos"] = []interface{}{}
				}),
				field: "creatorVtxos",
			},
			{
				name: "short server pubkey",
				data: createdEventJSON(t, func(raw map[string]interface{}) {
					raw["serverPubkey"] = hex.EncodeToString(serverPubkey[:20])
				}),
				field: "serverPubkey",
			},
			{
				name:  "short player secret",
				data:  []byte(`{"gameId": "id", "type": "resolve", "playerSecret": ""}`),
				field: "playerSecret",
			},
		}

		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				event, err := domain.DecodeEvent(f.data)
				require.Error(t, err)
				require.Nil(t, event)

				var validationErr *domain.ValidationError
				require.True(t, errors.As(err, &validationErr))
				require.Equal(t, f.field, validationErr.Field)
				if f.expectedErr != nil {
					require.ErrorIs(t, err, f.expectedErr)
				}
			})
		}
	})

	t.Run("encode invalid", func(t *testing.T) {
		_, err := domain.EncodeEvent(nil)
		require.Error(t, err)

		_, err = domain.EncodeEvent(domain.GameFinalized{
			GameEvent: domain.GameEvent{Id: "id", Type: domain.EventTypeGameFinalized},
		})
		require.EqualError(t, err, "invalid creatorSetupSignatures: missing")
	})
}

func createdEventJSON(t *testing.T, edit func(raw map[string]interface{})) []byte {
	game := domain.NewGame()
	event, err := game.Create(
		creatorPubkey, creatorVtxos(t, betAmount), changeAddress,
		betAmount, serverPubkey, setupExpiration, finalExpiration,
	)
	require.NoError(t, err)

	data, err := domain.EncodeEvent(event)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	edit(raw)

	data, err = json.Marshal(raw)
	require.NoError(t, err)
	return data
}
