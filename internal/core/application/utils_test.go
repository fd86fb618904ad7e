package application_test

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	txbuilder "github.com/ArkLabsHQ/coinflip/internal/infrastructure/tx-builder/covenantless"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	betAmount       = uint64(1000)
	setupExpiration = int64(1734437274)
	finalExpiration = int64(1734523674)
)

var (
	builder = txbuilder.NewTxBuilder()

	creatorKey, _ = btcec.NewPrivateKey()
	playerKey, _  = btcec.NewPrivateKey()
	serverKey, _  = btcec.NewPrivateKey()

	creatorPubkey = schnorr.SerializePubKey(creatorKey.PubKey())
	playerPubkey  = schnorr.SerializePubKey(playerKey.PubKey())
	serverPubkey  = schnorr.SerializePubKey(serverKey.PubKey())
)

type mockedArkClient struct {
	mock.Mock
}

func (m *mockedArkClient) GetInfo(ctx context.Context) (*ports.ServerInfo, error) {
	args := m.Called(ctx)

	var res *ports.ServerInfo
	if a := args.Get(0); a != nil {
		res = a.(*ports.ServerInfo)
	}
	return res, args.Error(1)
}

func (m *mockedArkClient) ListVtxos(ctx context.Context, address string) ([]domain.Vtxo, error) {
	args := m.Called(ctx, address)

	var res []domain.Vtxo
	if a := args.Get(0); a != nil {
		res = a.([]domain.Vtxo)
	}
	return res, args.Error(1)
}

func (m *mockedArkClient) SubmitRedeemTx(ctx context.Context, redeemTx string) (string, error) {
	args := m.Called(ctx, redeemTx)
	return args.String(0), args.Error(1)
}

type ledgerVtxo struct {
	vtxo     domain.Vtxo
	pkScript string
}

// fakeLedger is an in-memory ledger server shared by the agents of a test.
// It accepts redeem txs that spend unspent vtxos and miss only the server
// signature.
type fakeLedger struct {
	lock       sync.Mutex
	vtxos      []ledgerVtxo
	spent      map[string]bool
	tapscripts map[string][]string
	submitted  []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		spent:      make(map[string]bool),
		tapscripts: make(map[string][]string),
	}
}

// fund registers the funding contract of the key and credits it with one
// vtxo per amount.
func (l *fakeLedger) fund(t *testing.T, pubkey []byte, amounts ...uint64) {
	contract, err := domain.FundingContract(pubkey, serverPubkey)
	require.NoError(t, err)
	pkScript, err := contract.PkScript()
	require.NoError(t, err)

	l.lock.Lock()
	defer l.lock.Unlock()

	script := hex.EncodeToString(pkScript)
	l.tapscripts[script] = contract.Tapscripts
	for i, amount := range amounts {
		l.vtxos = append(l.vtxos, ledgerVtxo{
			vtxo: domain.Vtxo{
				Outpoint:   domain.Outpoint{Txid: randomTxid(), VOut: uint32(i)},
				Amount:     amount,
				Tapscripts: contract.Tapscripts,
			},
			pkScript: script,
		})
	}
}

func (l *fakeLedger) GetInfo(_ context.Context) (*ports.ServerInfo, error) {
	return &ports.ServerInfo{Pubkey: serverPubkey, Network: arklib.BitcoinRegTest}, nil
}

func (l *fakeLedger) ListVtxos(_ context.Context, address string) ([]domain.Vtxo, error) {
	addr, err := arklib.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	pkScript, err := addr.GetPkScript()
	if err != nil {
		return nil, err
	}
	script := hex.EncodeToString(pkScript)

	l.lock.Lock()
	defer l.lock.Unlock()

	vtxos := make([]domain.Vtxo, 0)
	for _, v := range l.vtxos {
		if v.pkScript == script && !l.spent[v.vtxo.Outpoint.String()] {
			vtxos = append(vtxos, v.vtxo)
		}
	}
	return vtxos, nil
}

func (l *fakeLedger) SubmitRedeemTx(_ context.Context, redeemTx string) (string, error) {
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(redeemTx), true)
	if err != nil {
		return "", &ports.LedgerError{StatusCode: 400, Message: err.Error()}
	}
	missing, err := builder.VerifyTapscriptSigs(ptx)
	if err != nil {
		return "", &ports.LedgerError{StatusCode: 400, Message: err.Error()}
	}
	for key := range missing {
		if key != hex.EncodeToString(serverPubkey) {
			return "", &ports.LedgerError{
				StatusCode: 400, Message: fmt.Sprintf("missing signature of %s", key),
			}
		}
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	for _, in := range ptx.UnsignedTx.TxIn {
		outpoint := domain.Outpoint{
			Txid: in.PreviousOutPoint.Hash.String(), VOut: in.PreviousOutPoint.Index,
		}
		if l.spent[outpoint.String()] || !l.exists(outpoint) {
			return "", &ports.LedgerError{
				StatusCode: 400, Message: fmt.Sprintf("vtxo %s already spent", outpoint),
			}
		}
	}
	for _, in := range ptx.UnsignedTx.TxIn {
		outpoint := domain.Outpoint{
			Txid: in.PreviousOutPoint.Hash.String(), VOut: in.PreviousOutPoint.Index,
		}
		l.spent[outpoint.String()] = true
	}

	txid := ptx.UnsignedTx.TxID()
	for i, out := range ptx.UnsignedTx.TxOut {
		if out.Value <= 0 {
			continue
		}
		script := hex.EncodeToString(out.PkScript)
		l.vtxos = append(l.vtxos, ledgerVtxo{
			vtxo: domain.Vtxo{
				Outpoint:   domain.Outpoint{Txid: txid, VOut: uint32(i)},
				Amount:     uint64(out.Value),
				Tapscripts: l.tapscripts[script],
				RedeemTx:   redeemTx,
			},
			pkScript: script,
		})
	}
	l.submitted = append(l.submitted, txid)
	return txid, nil
}

func (l *fakeLedger) exists(outpoint domain.Outpoint) bool {
	for _, v := range l.vtxos {
		if v.vtxo.Outpoint == outpoint {
			return true
		}
	}
	return false
}

// newFinalizedGame returns a game signed by both parties up to the
// finalization, with the given secrets committed.
func newFinalizedGame(t *testing.T, creatorSecret, playerSecret []byte) *domain.Game {
	game := newJoinedGame(t, playerSecret)

	withHash := *game
	withHash.Creator.Hash = hash(creatorSecret)
	finalTx, err := builder.BuildFinalTx(&withHash)
	require.NoError(t, err)
	creatorFinalSigs, err := builder.SignTx(finalTx, creatorKey, []int{0})
	require.NoError(t, err)
	_, err = game.StartSetup(hash(creatorSecret), creatorFinalSigs[0])
	require.NoError(t, err)

	txs, err := builder.BuildGameTxs(game)
	require.NoError(t, err)
	playerFinalSigs, err := builder.SignTx(txs.FinalTx, playerKey, []int{0})
	require.NoError(t, err)
	playerSetupSigs, err := builder.SignTx(txs.SetupTx, playerKey, []int{1})
	require.NoError(t, err)
	_, err = game.FinalizeSetup(playerFinalSigs[0], playerSetupSigs)
	require.NoError(t, err)

	txs, err = builder.BuildGameTxs(game)
	require.NoError(t, err)
	creatorSetupSigs, err := builder.SignTx(txs.SetupTx, creatorKey, []int{0})
	require.NoError(t, err)
	_, err = game.Finalize(creatorSetupSigs)
	require.NoError(t, err)

	return game
}

func newJoinedGame(t *testing.T, playerSecret []byte) *domain.Game {
	game := domain.NewGame()
	_, err := game.Create(
		creatorPubkey, fundingVtxos(t, creatorPubkey, betAmount), address(t, creatorPubkey),
		betAmount, serverPubkey, setupExpiration, finalExpiration,
	)
	require.NoError(t, err)

	_, err = game.Join(
		playerPubkey, fundingVtxos(t, playerPubkey, betAmount), address(t, playerPubkey),
		hash(playerSecret),
	)
	require.NoError(t, err)
	return game
}

func fundingVtxos(t *testing.T, pubkey []byte, amount uint64) []domain.VtxoInput {
	tapscripts, err := domain.DefaultFundingTapscripts(pubkey, serverPubkey)
	require.NoError(t, err)
	return []domain.VtxoInput{{
		Vtxo: domain.Vtxo{
			Outpoint:   domain.Outpoint{Txid: randomTxid()},
			Amount:     amount,
			Tapscripts: tapscripts,
		},
		Leaf: tapscripts[0],
	}}
}

func address(t *testing.T, pubkey []byte) string {
	contract, err := domain.FundingContract(pubkey, serverPubkey)
	require.NoError(t, err)
	addr, err := contract.Address(arklib.BitcoinRegTest)
	require.NoError(t, err)
	return addr
}

func changeScript(t *testing.T, addr string) []byte {
	decoded, err := arklib.DecodeAddress(addr)
	require.NoError(t, err)
	script, err := decoded.GetPkScript()
	require.NoError(t, err)
	return script
}

func randomTxid() string {
	return hex.EncodeToString(randomBytes(32))
}

func randomBytes(size int) []byte {
	b := make([]byte, size)
	// nolint
	rand.Read(b)
	return b
}

func hash(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
