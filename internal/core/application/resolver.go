package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"
)

const (
	SettlementNotYetResolvable SettlementStatus = iota
	SettlementNotTheWinner
	SettlementSubmitted
	SettlementLostRace
)

type SettlementStatus int

func (s SettlementStatus) String() string {
	switch s {
	case SettlementNotTheWinner:
		return "not the winner"
	case SettlementSubmitted:
		return "submitted"
	case SettlementLostRace:
		return "lost race"
	default:
		return "not yet resolvable"
	}
}

// Settlement is the result of a resolution attempt. Winner is only meaningful
// once the final tx has been found, Txid only when the cashout was submitted.
type Settlement struct {
	Status SettlementStatus
	Winner domain.Role
	Txid   string
}

func (s Settlement) Resolved() bool {
	return s.Status == SettlementSubmitted
}

// LedgerRejectionError is returned when the ledger refuses the cashout tx for
// any reason other than the pot being already spent. Resolution can be
// attempted again.
type LedgerRejectionError struct {
	Txid string
	Err  error
}

func (e *LedgerRejectionError) Error() string {
	return fmt.Sprintf("cashout tx %s rejected: %s", e.Txid, e.Err)
}

func (e *LedgerRejectionError) Unwrap() error {
	return e.Err
}

// Resolver claims the pot of finalized games on behalf of a single signer.
type Resolver struct {
	client  ports.ArkClient
	builder ports.TxBuilder
	network arklib.Network
	key     *btcec.PrivateKey
	pubkey  []byte
}

func NewResolver(
	client ports.ArkClient, builder ports.TxBuilder, network arklib.Network,
	key *btcec.PrivateKey,
) *Resolver {
	return &Resolver{
		client:  client,
		builder: builder,
		network: network,
		key:     key,
		pubkey:  schnorr.SerializePubKey(key.PubKey()),
	}
}

// Resolve looks up the pot of the final tx, recovers the creator's secret from
// the condition witness of the tx that created it and, if the signer is the
// winner, submits the cashout tx. If playerSecret is nil the one revealed in
// the game, if any, is used.
func (r *Resolver) Resolve(
	ctx context.Context, game *domain.Game, playerSecret []byte,
) (*Settlement, error) {
	if !game.IsFinalized() {
		return nil, &domain.ValidationError{Field: "status", Err: domain.ErrGameNotFinalized}
	}
	final, err := game.FinalContract()
	if err != nil {
		return nil, err
	}
	finalAddress, err := final.Address(r.network)
	if err != nil {
		return nil, err
	}

	vtxos, err := r.client.ListVtxos(ctx, finalAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to list vtxos of final address: %w", err)
	}
	if len(vtxos) == 0 {
		log.Debugf("final tx of game %s not submitted yet", game.Id)
		return &Settlement{Status: SettlementNotYetResolvable}, nil
	}
	pot := vtxos[0]

	creatorSecret, err := creatorSecretFromRedeemTx(pot.RedeemTx)
	if err != nil {
		return nil, err
	}
	if !matchesHash(creatorSecret, game.Creator.Hash) {
		return nil, &domain.ValidationError{
			Field: "creatorSecret", Err: domain.ErrSecretMismatch,
		}
	}

	if playerSecret == nil {
		playerSecret = game.Player.RevealedSecret
	}
	if len(playerSecret) > 0 && !matchesHash(playerSecret, game.Player.Hash) {
		return nil, &domain.ValidationError{
			Field: "playerSecret", Err: domain.ErrSecretMismatch,
		}
	}

	winner := domain.Outcome(creatorSecret, playerSecret)
	if !bytes.Equal(game.Party(winner).Pubkey, r.pubkey) {
		log.Debugf("game %s won by %s", game.Id, winner)
		return &Settlement{Status: SettlementNotTheWinner, Winner: winner}, nil
	}

	var ptx *psbt.Packet
	if len(playerSecret) == 0 {
		// the win leaf needs the player's preimage, without it the creator
		// can only claim after the final expiration
		ptx, err = r.builder.BuildAbortTx(game, pot, domain.RoleCreator)
	} else {
		ptx, err = r.builder.BuildCashoutTx(
			game, pot, winner, txutils.ConditionWitness{creatorSecret, playerSecret},
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build cashout tx: %w", err)
	}
	if _, err := r.builder.SignTx(ptx, r.key, []int{0}); err != nil {
		return nil, fmt.Errorf("failed to sign cashout tx: %w", err)
	}

	txid := r.builder.GetTxid(ptx)
	b64, err := ptx.B64Encode()
	if err != nil {
		return nil, err
	}
	if _, err := r.client.SubmitRedeemTx(ctx, b64); err != nil {
		var ledgerErr *ports.LedgerError
		if !errors.As(err, &ledgerErr) {
			return nil, fmt.Errorf("failed to submit cashout tx: %w", err)
		}
		if isAlreadySpent(ledgerErr) {
			log.Infof("pot of game %s already claimed", game.Id)
			return &Settlement{Status: SettlementLostRace, Winner: winner}, nil
		}
		return nil, &LedgerRejectionError{Txid: txid, Err: ledgerErr}
	}

	log.Infof("submitted cashout tx %s for game %s", txid, game.Id)
	return &Settlement{Status: SettlementSubmitted, Winner: winner, Txid: txid}, nil
}

// creatorSecretFromRedeemTx reads the single condition witness item the
// creator attached to the final tx.
func creatorSecretFromRedeemTx(redeemTx string) ([]byte, error) {
	if redeemTx == "" {
		return nil, &domain.ValidationError{
			Field: "redeemTx", Err: domain.ErrMissingConditionWitness,
		}
	}
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(redeemTx), true)
	if err != nil {
		return nil, &domain.ValidationError{Field: "redeemTx", Err: err}
	}
	if len(ptx.Inputs) == 0 {
		return nil, &domain.ValidationError{
			Field: "redeemTx", Err: domain.ErrMissingConditionWitness,
		}
	}

	witness, found, err := txutils.GetConditionWitness(ptx.Inputs[0])
	if err != nil {
		return nil, &domain.ValidationError{Field: "conditionWitness", Err: err}
	}
	if !found {
		return nil, &domain.ValidationError{
			Field: "conditionWitness", Err: domain.ErrMissingConditionWitness,
		}
	}
	if len(witness) != 1 {
		return nil, &domain.ValidationError{
			Field: "conditionWitness",
			Err: fmt.Errorf(
				"%w: expected 1 item, got %d", domain.ErrInvalidSecretLength, len(witness),
			),
		}
	}
	return witness[0], nil
}

func matchesHash(secret, hash []byte) bool {
	h := sha256.Sum256(secret)
	return bytes.Equal(h[:], hash)
}

func isAlreadySpent(err *ports.LedgerError) bool {
	msg := strings.ToLower(err.Message)
	return strings.Contains(msg, "spent") || strings.Contains(msg, "duplicate")
}
