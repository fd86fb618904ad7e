package application_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ArkLabsHQ/coinflip/internal/core/application"
	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()
	heads := func() []byte { return randomBytes(domain.SecretLengthHeads) }
	tails := func() []byte { return randomBytes(domain.SecretLengthTails) }

	fixtures := []struct {
		name           string
		creatorSecret  []byte
		playerSecret   []byte
		revealed       bool
		key            *btcec.PrivateKey
		withSecret     bool
		expectedWinner domain.Role
		expectedLeaf   func(*domain.FinalContract) []byte
	}{
		{
			name:           "player wins with the same side",
			creatorSecret:  heads(),
			playerSecret:   heads(),
			key:            playerKey,
			withSecret:     true,
			expectedWinner: domain.RolePlayer,
			expectedLeaf:   func(c *domain.FinalContract) []byte { return c.PlayerWin },
		},
		{
			name:           "creator wins with a different side",
			creatorSecret:  tails(),
			playerSecret:   heads(),
			revealed:       true,
			key:            creatorKey,
			expectedWinner: domain.RoleCreator,
			expectedLeaf:   func(c *domain.FinalContract) []byte { return c.CreatorWin },
		},
		{
			name:           "creator claims after expiration without reveal",
			creatorSecret:  heads(),
			playerSecret:   tails(),
			key:            creatorKey,
			expectedWinner: domain.RoleCreator,
			expectedLeaf:   func(c *domain.FinalContract) []byte { return c.Aborted },
		},
		{
			name:           "player wins against an invalid creator secret",
			creatorSecret:  randomBytes(20),
			playerSecret:   tails(),
			key:            playerKey,
			withSecret:     true,
			expectedWinner: domain.RolePlayer,
			expectedLeaf:   func(c *domain.FinalContract) []byte { return c.PlayerWin },
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			game := newFinalizedGame(t, f.creatorSecret, f.playerSecret)
			if f.revealed {
				_, err := game.Resolve(f.playerSecret)
				require.NoError(t, err)
			}
			final, err := game.FinalContract()
			require.NoError(t, err)
			finalAddress, err := final.Address(arklib.BitcoinRegTest)
			require.NoError(t, err)
			pot := newPot(t, game, txutils.ConditionWitness{f.creatorSecret})

			var submitted *psbt.Packet
			client := &mockedArkClient{}
			client.On("ListVtxos", mock.Anything, finalAddress).Return([]domain.Vtxo{pot}, nil)
			client.On("SubmitRedeemTx", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					ptx, err := psbt.NewFromRawBytes(strings.NewReader(args.String(1)), true)
					require.NoError(t, err)
					submitted = ptx
				}).
				Return("cashout-txid", nil)

			var playerSecret []byte
			if f.withSecret {
				playerSecret = f.playerSecret
			}

			resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, f.key)
			settlement, err := resolver.Resolve(ctx, game, playerSecret)
			require.NoError(t, err)
			require.Equal(t, application.SettlementSubmitted, settlement.Status)
			require.True(t, settlement.Resolved())
			require.Equal(t, f.expectedWinner, settlement.Winner)
			require.Equal(t, builder.GetTxid(submitted), settlement.Txid)
			client.AssertExpectations(t)

			// the whole pot goes to the winner through its leaf
			require.NotNil(t, submitted)
			require.Len(t, submitted.UnsignedTx.TxIn, 1)
			require.Equal(t, pot.Outpoint.Txid, submitted.UnsignedTx.TxIn[0].PreviousOutPoint.Hash.String())
			require.Equal(t, f.expectedLeaf(final), submitted.Inputs[0].TaprootLeafScript[0].Script)
			require.Equal(t, int64(game.PotAmount()), submitted.UnsignedTx.TxOut[0].Value)
			require.Equal(
				t, changeScript(t, game.Party(f.expectedWinner).ChangeAddress),
				submitted.UnsignedTx.TxOut[0].PkScript,
			)

			missing, err := builder.VerifyTapscriptSigs(submitted)
			require.NoError(t, err)
			require.Len(t, missing, 1)
			require.Contains(t, missing, fmt.Sprintf("%x", serverPubkey))
		})
	}
}

func TestResolveNotTheWinner(t *testing.T) {
	creatorSecret := randomBytes(domain.SecretLengthTails)
	playerSecret := randomBytes(domain.SecretLengthHeads)
	game := newFinalizedGame(t, creatorSecret, playerSecret)
	pot := newPot(t, game, txutils.ConditionWitness{creatorSecret})

	client := &mockedArkClient{}
	client.On("ListVtxos", mock.Anything, mock.Anything).Return([]domain.Vtxo{pot}, nil)

	resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
	settlement, err := resolver.Resolve(context.Background(), game, playerSecret)
	require.NoError(t, err)
	require.Equal(t, application.SettlementNotTheWinner, settlement.Status)
	require.Equal(t, domain.RoleCreator, settlement.Winner)
	require.False(t, settlement.Resolved())
	client.AssertNotCalled(t, "SubmitRedeemTx", mock.Anything, mock.Anything)
}

func TestResolveNotYetResolvable(t *testing.T) {
	game := newFinalizedGame(
		t, randomBytes(domain.SecretLengthHeads), randomBytes(domain.SecretLengthHeads),
	)

	client := &mockedArkClient{}
	client.On("ListVtxos", mock.Anything, mock.Anything).Return([]domain.Vtxo{}, nil)

	resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
	settlement, err := resolver.Resolve(context.Background(), game, nil)
	require.NoError(t, err)
	require.Equal(t, application.SettlementNotYetResolvable, settlement.Status)
	require.Equal(t, "not yet resolvable", settlement.Status.String())
	client.AssertNotCalled(t, "SubmitRedeemTx", mock.Anything, mock.Anything)
}

func TestResolveLostRace(t *testing.T) {
	creatorSecret := randomBytes(domain.SecretLengthHeads)
	playerSecret := randomBytes(domain.SecretLengthHeads)
	game := newFinalizedGame(t, creatorSecret, playerSecret)
	pot := newPot(t, game, txutils.ConditionWitness{creatorSecret})

	client := &mockedArkClient{}
	client.On("ListVtxos", mock.Anything, mock.Anything).Return([]domain.Vtxo{pot}, nil)
	client.On("SubmitRedeemTx", mock.Anything, mock.Anything).Return(
		"", &ports.LedgerError{StatusCode: 400, Message: "VTXO_ALREADY_SPENT: vtxo already spent"},
	)

	resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
	settlement, err := resolver.Resolve(context.Background(), game, playerSecret)
	require.NoError(t, err)
	require.Equal(t, application.SettlementLostRace, settlement.Status)
	require.Equal(t, domain.RolePlayer, settlement.Winner)
	require.Empty(t, settlement.Txid)
}

func TestResolveInvalid(t *testing.T) {
	ctx := context.Background()

	t.Run("game not finalized", func(t *testing.T) {
		game := newJoinedGame(t, randomBytes(domain.SecretLengthHeads))
		client := &mockedArkClient{}

		resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
		settlement, err := resolver.Resolve(ctx, game, nil)
		require.ErrorIs(t, err, domain.ErrGameNotFinalized)
		require.Nil(t, settlement)
		client.AssertNotCalled(t, "ListVtxos", mock.Anything, mock.Anything)
	})

	t.Run("ledger unreachable", func(t *testing.T) {
		game := newFinalizedGame(
			t, randomBytes(domain.SecretLengthHeads), randomBytes(domain.SecretLengthHeads),
		)
		client := &mockedArkClient{}
		client.On("ListVtxos", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("connection refused"))

		resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
		settlement, err := resolver.Resolve(ctx, game, nil)
		require.ErrorContains(t, err, "failed to list vtxos of final address: connection refused")
		require.Nil(t, settlement)
	})

	fixtures := []struct {
		name        string
		witness     func(creatorSecret, playerSecret []byte) txutils.ConditionWitness
		redeemTx    *string
		secret      func(playerSecret []byte) []byte
		expectedErr error
	}{
		{
			name:        "missing redeem tx",
			redeemTx:    new(string),
			expectedErr: domain.ErrMissingConditionWitness,
		},
		{
			name: "missing condition witness",
			witness: func(_, _ []byte) txutils.ConditionWitness {
				return nil
			},
			expectedErr: domain.ErrMissingConditionWitness,
		},
		{
			name: "condition witness with too many items",
			witness: func(creatorSecret, playerSecret []byte) txutils.ConditionWitness {
				return txutils.ConditionWitness{creatorSecret, playerSecret}
			},
			expectedErr: domain.ErrInvalidSecretLength,
		},
		{
			name: "creator secret not matching its hash",
			witness: func(_, _ []byte) txutils.ConditionWitness {
				return txutils.ConditionWitness{randomBytes(domain.SecretLengthHeads)}
			},
			expectedErr: domain.ErrSecretMismatch,
		},
		{
			name: "player secret not matching its hash",
			secret: func(_ []byte) []byte {
				return randomBytes(domain.SecretLengthHeads)
			},
			expectedErr: domain.ErrSecretMismatch,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			creatorSecret := randomBytes(domain.SecretLengthHeads)
			playerSecret := randomBytes(domain.SecretLengthHeads)
			game := newFinalizedGame(t, creatorSecret, playerSecret)

			witness := txutils.ConditionWitness{creatorSecret}
			if f.witness != nil {
				witness = f.witness(creatorSecret, playerSecret)
			}
			pot := newPot(t, game, witness)
			if f.redeemTx != nil {
				pot.RedeemTx = *f.redeemTx
			}
			secret := playerSecret
			if f.secret != nil {
				secret = f.secret(playerSecret)
			}

			client := &mockedArkClient{}
			client.On("ListVtxos", mock.Anything, mock.Anything).Return([]domain.Vtxo{pot}, nil)

			resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
			settlement, err := resolver.Resolve(ctx, game, secret)
			require.ErrorIs(t, err, f.expectedErr)
			require.Nil(t, settlement)

			var validationErr *domain.ValidationError
			require.True(t, errors.As(err, &validationErr))
			client.AssertNotCalled(t, "SubmitRedeemTx", mock.Anything, mock.Anything)
		})
	}
}

func TestResolveSubmitFailure(t *testing.T) {
	fixtures := []struct {
		name      string
		submitErr error
		checkErr  func(t *testing.T, err error)
	}{
		{
			name:      "ledger rejection",
			submitErr: &ports.LedgerError{StatusCode: 500, Message: "internal error"},
			checkErr: func(t *testing.T, err error) {
				var rejection *application.LedgerRejectionError
				require.True(t, errors.As(err, &rejection))
				require.NotEmpty(t, rejection.Txid)

				var ledgerErr *ports.LedgerError
				require.True(t, errors.As(err, &ledgerErr))
				require.Equal(t, 500, ledgerErr.StatusCode)
			},
		},
		{
			name:      "transport failure",
			submitErr: fmt.Errorf("connection reset"),
			checkErr: func(t *testing.T, err error) {
				require.EqualError(t, err, "failed to submit cashout tx: connection reset")
			},
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			creatorSecret := randomBytes(domain.SecretLengthTails)
			playerSecret := randomBytes(domain.SecretLengthTails)
			game := newFinalizedGame(t, creatorSecret, playerSecret)
			pot := newPot(t, game, txutils.ConditionWitness{creatorSecret})

			client := &mockedArkClient{}
			client.On("ListVtxos", mock.Anything, mock.Anything).Return([]domain.Vtxo{pot}, nil)
			client.On("SubmitRedeemTx", mock.Anything, mock.Anything).Return("", f.submitErr)

			resolver := application.NewResolver(client, builder, arklib.BitcoinRegTest, playerKey)
			settlement, err := resolver.Resolve(context.Background(), game, playerSecret)
			require.Error(t, err)
			require.Nil(t, settlement)
			f.checkErr(t, err)
		})
	}
}

// newPot returns the vtxo created by the final tx of the game, carrying the
// given condition witness in its redeem tx.
func newPot(t *testing.T, game *domain.Game, witness txutils.ConditionWitness) domain.Vtxo {
	txs, err := builder.BuildGameTxs(game)
	require.NoError(t, err)
	if len(witness) > 0 {
		err = txutils.SetConditionWitness(0, txs.FinalTx, witness)
		require.NoError(t, err)
	}
	redeemTx, err := txs.FinalTx.B64Encode()
	require.NoError(t, err)

	final, err := game.FinalContract()
	require.NoError(t, err)

	return domain.Vtxo{
		Outpoint:   domain.Outpoint{Txid: builder.GetTxid(txs.FinalTx), VOut: 0},
		Amount:     game.PotAmount(),
		Tapscripts: final.Tapscripts,
		RedeemTx:   redeemTx,
	}
}
