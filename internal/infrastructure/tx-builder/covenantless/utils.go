package txbuilder

import (
	"encoding/hex"
	"fmt"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/offchain"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// getChange returns the change output of the party, nil if its inputs match
// the bet amount.
func getChange(game *domain.Game, role domain.Role) (*wire.TxOut, error) {
	party := game.Party(role)

	funded := uint64(0)
	for _, v := range party.Vtxos {
		funded += v.Vtxo.Amount
	}
	if funded < game.BetAmount {
		return nil, &domain.InsufficientFundsError{
			Party:   role,
			Funded:  funded,
			Missing: game.BetAmount - funded,
		}
	}

	change := funded - game.BetAmount
	if change == 0 {
		return nil, nil
	}

	pkScript, err := changeScript(party.ChangeAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid %s change address: %w", role, err)
	}
	return &wire.TxOut{Value: int64(change), PkScript: pkScript}, nil
}

func changeScript(address string) ([]byte, error) {
	addr, err := arklib.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	return addr.GetPkScript()
}

func toVtxoInput(
	vtxo domain.Vtxo, tapscripts []string, leaf string,
) (*offchain.VtxoInput, error) {
	hash, err := chainhash.NewHashFromStr(vtxo.Outpoint.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %s: %w", vtxo.Outpoint.Txid, err)
	}
	return offchain.NewVtxoInput(
		wire.NewOutPoint(hash, vtxo.Outpoint.VOut), int64(vtxo.Amount), tapscripts, leaf,
	)
}

func attachSig(ptx *psbt.Packet, index int, pubkey *btcec.PublicKey, sig []byte) error {
	if index < 0 || index >= len(ptx.Inputs) {
		return fmt.Errorf("input index %d out of range", index)
	}
	if len(ptx.Inputs[index].TaprootLeafScript) == 0 {
		return fmt.Errorf("missing tapscript leaf for input %d", index)
	}
	leaf := ptx.Inputs[index].TaprootLeafScript[0].Script
	return offchain.AttachTapscriptSig(ptx, index, pubkey, leaf, sig)
}

// closureKeys maps the hex x-only keys of the closure to whether they signed.
func closureKeys(closure script.Closure) map[string]bool {
	keys := make(map[string]bool)
	for _, key := range closure.Keys() {
		keys[hex.EncodeToString(schnorr.SerializePubKey(key))] = false
	}
	return keys
}

func getPrevOutputFetcher(ptx *psbt.Packet) (txscript.PrevOutputFetcher, error) {
	prevouts := make(map[wire.OutPoint]*wire.TxOut)
	for i, input := range ptx.Inputs {
		if input.WitnessUtxo == nil {
			return nil, fmt.Errorf("missing witness utxo for input %d", i)
		}
		prevouts[ptx.UnsignedTx.TxIn[i].PreviousOutPoint] = input.WitnessUtxo
	}
	return txscript.NewMultiPrevOutFetcher(prevouts), nil
}
