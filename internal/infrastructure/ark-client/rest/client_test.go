package restclient_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	restclient "github.com/ArkLabsHQ/coinflip/internal/infrastructure/ark-client/rest"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

const (
	txid1 = "4110b759375b662e3ea3c7f432dd121b21200b89e0858deeee31a06c478178e0"
	txid2 = "2c6bffc1ce2da7e40f37043b7940b548b9b93f474e17c7fd84c8090c054afc96"
)

func TestGetInfo(t *testing.T) {
	ownerPubkey, serverKey := newPubkey(t), newKey(t)

	fixtures := []struct {
		name            string
		body            string
		status          int
		expectedNetwork arklib.Network
		expectedErr     string
	}{
		{
			name:            "regtest",
			body:            infoBody(serverKey, "regtest"),
			status:          http.StatusOK,
			expectedNetwork: arklib.BitcoinRegTest,
		},
		{
			name:            "mutinynet",
			body:            infoBody(serverKey, "mutinynet"),
			status:          http.StatusOK,
			expectedNetwork: arklib.BitcoinMutinyNet,
		},
		{
			name:        "missing network",
			body:        `{"pubkey":"02aa"}`,
			status:      http.StatusOK,
			expectedErr: "invalid server info: missing required fields",
		},
		{
			name:        "unknown network",
			body:        infoBody(serverKey, "liquid"),
			status:      http.StatusOK,
			expectedErr: "invalid server info: unknown network liquid",
		},
		{
			name:        "invalid pubkey",
			body:        `{"pubkey":"02zz","network":"regtest"}`,
			status:      http.StatusOK,
			expectedErr: "invalid server pubkey 02zz",
		},
		{
			name:        "server error",
			body:        `{"code":13,"message":"internal error"}`,
			status:      http.StatusInternalServerError,
			expectedErr: "ledger server error (500): internal error",
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/v1/info", r.URL.Path)
				w.WriteHeader(f.status)
				fmt.Fprint(w, f.body)
			}))
			defer server.Close()

			client, err := restclient.NewClient(server.URL, ownerPubkey)
			require.NoError(t, err)

			info, err := client.GetInfo(context.Background())
			if f.expectedErr != "" {
				require.EqualError(t, err, f.expectedErr)
				require.Nil(t, info)
				return
			}
			require.NoError(t, err)
			require.Equal(t, schnorr.SerializePubKey(serverKey.PubKey()), info.Pubkey)
			require.Equal(t, f.expectedNetwork, info.Network)
		})
	}
}

func TestListVtxos(t *testing.T) {
	ownerPubkey, serverKey := newPubkey(t), newKey(t)
	serverPubkey := schnorr.SerializePubKey(serverKey.PubKey())

	contract, err := domain.FundingContract(ownerPubkey, serverPubkey)
	require.NoError(t, err)
	ownAddress, err := contract.Address(arklib.BitcoinRegTest)
	require.NoError(t, err)
	otherContract, err := domain.FundingContract(newPubkey(t), serverPubkey)
	require.NoError(t, err)
	otherAddress, err := otherContract.Address(arklib.BitcoinRegTest)
	require.NoError(t, err)

	defaultTapscripts, err := domain.DefaultFundingTapscripts(ownerPubkey, serverPubkey)
	require.NoError(t, err)

	vtxosBody := fmt.Sprintf(`{"spendableVtxos":[
		{"outpoint":{"txid":"%s","vout":0},"amount":"1000"},
		{"outpoint":{"txid":"%s","vout":1},"amount":"2100","tapscripts":["51"],"redeemTx":"cHNidP8="}
	],"spentVtxos":[]}`, txid1, txid2)

	infoCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/info":
			infoCalls++
			fmt.Fprint(w, infoBody(serverKey, "regtest"))
		case "/v1/vtxos/" + ownAddress, "/v1/vtxos/" + otherAddress:
			fmt.Fprint(w, vtxosBody)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":5,"message":"not found"}`)
		}
	}))
	defer server.Close()

	client, err := restclient.NewClient(server.URL, ownerPubkey)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("own address", func(t *testing.T) {
		vtxos, err := client.ListVtxos(ctx, ownAddress)
		require.NoError(t, err)
		require.Equal(t, []domain.Vtxo{
			{
				Outpoint:   domain.Outpoint{Txid: txid1, VOut: 0},
				Amount:     1000,
				Tapscripts: defaultTapscripts,
			},
			{
				Outpoint:   domain.Outpoint{Txid: txid2, VOut: 1},
				Amount:     2100,
				Tapscripts: []string{"51"},
				RedeemTx:   "cHNidP8=",
			},
		}, vtxos)
		// server info is fetched lazily once
		require.Equal(t, 1, infoCalls)
	})

	t.Run("other address", func(t *testing.T) {
		vtxos, err := client.ListVtxos(ctx, otherAddress)
		require.NoError(t, err)
		require.Len(t, vtxos, 2)
		require.Empty(t, vtxos[0].Tapscripts)
		require.Equal(t, []string{"51"}, vtxos[1].Tapscripts)
		require.Equal(t, 1, infoCalls)
	})

	t.Run("unknown address", func(t *testing.T) {
		vtxos, err := client.ListVtxos(ctx, "unknown")
		require.Nil(t, vtxos)

		var ledgerErr *ports.LedgerError
		require.True(t, errors.As(err, &ledgerErr))
		require.Equal(t, http.StatusNotFound, ledgerErr.StatusCode)
		require.Equal(t, "not found", ledgerErr.Message)
	})
}

func TestSubmitRedeemTx(t *testing.T) {
	const redeemTx = "cHNidP8BAAoCAAAAAAAAAAAAAAA="

	fixtures := []struct {
		name        string
		status      int
		body        string
		expectedErr string
	}{
		{
			name:   "accepted",
			status: http.StatusOK,
			body:   fmt.Sprintf(`{"txid":"%s"}`, txid1),
		},
		{
			name:        "rejected",
			status:      http.StatusBadRequest,
			body:        "vtxo already spent",
			expectedErr: "ledger server error (400): vtxo already spent",
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "/v1/redeem-tx", r.URL.Path)
				require.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Equal(t, redeemTx, req["redeemTx"])

				w.WriteHeader(f.status)
				fmt.Fprint(w, f.body)
			}))
			defer server.Close()

			client, err := restclient.NewClient(server.URL+"/", newPubkey(t))
			require.NoError(t, err)

			txid, err := client.SubmitRedeemTx(context.Background(), redeemTx)
			if f.expectedErr != "" {
				require.EqualError(t, err, f.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, txid1, txid)
		})
	}
}

func TestNewClientInvalid(t *testing.T) {
	_, err := restclient.NewClient("", newPubkey(t))
	require.EqualError(t, err, "missing server url")

	_, err = restclient.NewClient("localhost:7070", newPubkey(t))
	require.EqualError(t, err, "invalid server url localhost:7070")

	_, err = restclient.NewClient("http://localhost:7070", []byte{0x02})
	require.EqualError(t, err, "invalid owner pubkey: expected 32 bytes, got 1")
}

func infoBody(serverKey *btcec.PrivateKey, network string) string {
	return fmt.Sprintf(
		`{"pubkey":"%s","network":"%s","roundInterval":"10"}`,
		hex.EncodeToString(serverKey.PubKey().SerializeCompressed()), network,
	)
}

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func newPubkey(t *testing.T) []byte {
	return schnorr.SerializePubKey(newKey(t).PubKey())
}
