package ports

import (
	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

// GameTxs are the two presigned txs of a game. The final tx spends the pot
// output of the setup tx.
type GameTxs struct {
	SetupTx *psbt.Packet
	FinalTx *psbt.Packet
}

type TxBuilder interface {
	// BuildSetupTx moves the stakes of both parties to the setup output,
	// creator inputs first, then player inputs.
	BuildSetupTx(game *domain.Game) (*psbt.Packet, error)
	// BuildFinalTx spends the setup output with the reveal leaf.
	BuildFinalTx(game *domain.Game) (*psbt.Packet, error)
	// BuildGameTxs builds both txs and attaches every signature known by the game.
	BuildGameTxs(game *domain.Game) (*GameTxs, error)
	// BuildCashoutTx spends the pot with the winner's leaf, paying to its
	// change address.
	BuildCashoutTx(
		game *domain.Game, pot domain.Vtxo, winner domain.Role,
		witness txutils.ConditionWitness,
	) (*psbt.Packet, error)
	// BuildAbortTx spends a pot with the timelocked leaf of the given role:
	// the creator claims the final output, the player reclaims the setup one.
	BuildAbortTx(game *domain.Game, pot domain.Vtxo, role domain.Role) (*psbt.Packet, error)
	// SignTx signs the given inputs with the key and attaches the signatures,
	// that are also returned in the same order.
	SignTx(ptx *psbt.Packet, key *btcec.PrivateKey, inputIndexes []int) ([][]byte, error)
	// VerifyTapscriptSigs checks every attached signature and returns the
	// x-only keys of the leaves whose signature is still missing.
	VerifyTapscriptSigs(ptx *psbt.Packet) (missing map[string]struct{}, err error)
	GetTxid(ptx *psbt.Packet) string
}
