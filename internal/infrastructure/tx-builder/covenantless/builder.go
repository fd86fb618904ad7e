package txbuilder

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/offchain"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/script"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

type txBuilder struct{}

func NewTxBuilder() ports.TxBuilder {
	return &txBuilder{}
}

func (b *txBuilder) GetTxid(ptx *psbt.Packet) string {
	return ptx.UnsignedTx.TxID()
}

func (b *txBuilder) BuildSetupTx(game *domain.Game) (*psbt.Packet, error) {
	if game.BetAmount == 0 {
		return nil, fmt.Errorf("missing bet amount")
	}
	if len(game.Creator.Vtxos) == 0 {
		return nil, fmt.Errorf("missing creator vtxos")
	}
	if len(game.Player.Vtxos) == 0 {
		return nil, fmt.Errorf("missing player vtxos")
	}

	contract, err := game.SetupContract()
	if err != nil {
		return nil, err
	}
	potScript, err := contract.PkScript()
	if err != nil {
		return nil, err
	}

	creatorChange, err := getChange(game, domain.RoleCreator)
	if err != nil {
		return nil, err
	}
	playerChange, err := getChange(game, domain.RolePlayer)
	if err != nil {
		return nil, err
	}

	ins := make([]offchain.VtxoInput, 0, len(game.Creator.Vtxos)+len(game.Player.Vtxos))
	for _, vtxos := range [][]domain.VtxoInput{game.Creator.Vtxos, game.Player.Vtxos} {
		for _, v := range vtxos {
			in, err := toVtxoInput(v.Vtxo, v.Vtxo.Tapscripts, v.Leaf)
			if err != nil {
				return nil, fmt.Errorf("invalid vtxo %s: %w", v.Vtxo.Outpoint, err)
			}
			ins = append(ins, *in)
		}
	}

	outs := []*wire.TxOut{{Value: int64(game.PotAmount()), PkScript: potScript}}
	for _, change := range []*wire.TxOut{creatorChange, playerChange} {
		if change != nil {
			outs = append(outs, change)
		}
	}

	return offchain.BuildRedeemTx(ins, outs)
}

func (b *txBuilder) BuildFinalTx(game *domain.Game) (*psbt.Packet, error) {
	setupTx, err := b.BuildSetupTx(game)
	if err != nil {
		return nil, fmt.Errorf("failed to build setup tx: %w", err)
	}
	setup, err := game.SetupContract()
	if err != nil {
		return nil, err
	}
	final, err := game.FinalContract()
	if err != nil {
		return nil, err
	}
	finalScript, err := final.PkScript()
	if err != nil {
		return nil, err
	}

	pot := domain.Vtxo{
		Outpoint: domain.Outpoint{Txid: setupTx.UnsignedTx.TxID(), VOut: 0},
		Amount:   game.PotAmount(),
	}
	in, err := toVtxoInput(pot, setup.Tapscripts, hex.EncodeToString(setup.Reveal))
	if err != nil {
		return nil, err
	}

	return offchain.BuildRedeemTx(
		[]offchain.VtxoInput{*in},
		[]*wire.TxOut{{Value: int64(pot.Amount), PkScript: finalScript}},
	)
}

func (b *txBuilder) BuildGameTxs(game *domain.Game) (*ports.GameTxs, error) {
	setupTx, err := b.BuildSetupTx(game)
	if err != nil {
		return nil, err
	}
	finalTx, err := b.BuildFinalTx(game)
	if err != nil {
		return nil, err
	}

	creatorKey, err := schnorr.ParsePubKey(game.Creator.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid creator pubkey: %w", err)
	}
	playerKey, err := schnorr.ParsePubKey(game.Player.Pubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid player pubkey: %w", err)
	}

	numOfCreatorInputs := len(game.Creator.Vtxos)
	for i, sig := range game.Creator.SetupTxSignatures {
		if err := attachSig(setupTx, i, creatorKey, sig); err != nil {
			return nil, fmt.Errorf("invalid creator setup signature %d: %w", i, err)
		}
	}
	for i, sig := range game.Player.SetupTxSignatures {
		if err := attachSig(setupTx, numOfCreatorInputs+i, playerKey, sig); err != nil {
			return nil, fmt.Errorf("invalid player setup signature %d: %w", i, err)
		}
	}

	if len(game.Creator.FinalTxSignature) > 0 {
		if err := attachSig(finalTx, 0, creatorKey, game.Creator.FinalTxSignature); err != nil {
			return nil, fmt.Errorf("invalid creator final signature: %w", err)
		}
	}
	if len(game.Player.FinalTxSignature) > 0 {
		if err := attachSig(finalTx, 0, playerKey, game.Player.FinalTxSignature); err != nil {
			return nil, fmt.Errorf("invalid player final signature: %w", err)
		}
	}

	return &ports.GameTxs{SetupTx: setupTx, FinalTx: finalTx}, nil
}

func (b *txBuilder) BuildCashoutTx(
	game *domain.Game, pot domain.Vtxo, winner domain.Role, witness txutils.ConditionWitness,
) (*psbt.Packet, error) {
	if len(witness) == 0 {
		return nil, fmt.Errorf("missing condition witness")
	}
	final, err := game.FinalContract()
	if err != nil {
		return nil, err
	}

	ptx, err := buildPotSpend(game, pot, winner, final.Tapscripts, final.WinLeaf(winner))
	if err != nil {
		return nil, err
	}
	if err := txutils.SetConditionWitness(0, ptx, witness); err != nil {
		return nil, err
	}
	return ptx, nil
}

func (b *txBuilder) BuildAbortTx(
	game *domain.Game, pot domain.Vtxo, role domain.Role,
) (*psbt.Packet, error) {
	if role == domain.RoleCreator {
		final, err := game.FinalContract()
		if err != nil {
			return nil, err
		}
		return buildPotSpend(game, pot, role, final.Tapscripts, final.Aborted)
	}

	setup, err := game.SetupContract()
	if err != nil {
		return nil, err
	}
	return buildPotSpend(game, pot, role, setup.Tapscripts, setup.Aborted)
}

func (b *txBuilder) SignTx(
	ptx *psbt.Packet, key *btcec.PrivateKey, inputIndexes []int,
) ([][]byte, error) {
	prevoutFetcher, err := getPrevOutputFetcher(ptx)
	if err != nil {
		return nil, err
	}
	txSigHashes := txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher)
	xOnlyPubkey := schnorr.SerializePubKey(key.PubKey())

	sigs := make([][]byte, 0, len(inputIndexes))
	for _, index := range inputIndexes {
		if index < 0 || index >= len(ptx.Inputs) {
			return nil, fmt.Errorf("input index %d out of range", index)
		}
		input := ptx.Inputs[index]
		if len(input.TaprootLeafScript) == 0 {
			return nil, fmt.Errorf("missing tapscript leaf for input %d", index)
		}
		tapLeaf := input.TaprootLeafScript[0]

		closure, err := script.DecodeClosure(tapLeaf.Script)
		if err != nil {
			return nil, err
		}
		if _, ok := closureKeys(closure)[hex.EncodeToString(xOnlyPubkey)]; !ok {
			return nil, fmt.Errorf("key %x is not a signer of input %d", xOnlyPubkey, index)
		}

		preimage, err := txscript.CalcTapscriptSignaturehash(
			txSigHashes,
			txscript.SigHashDefault,
			ptx.UnsignedTx,
			index,
			prevoutFetcher,
			txscript.NewBaseTapLeaf(tapLeaf.Script),
		)
		if err != nil {
			return nil, err
		}

		sig, err := schnorr.Sign(key, preimage)
		if err != nil {
			return nil, err
		}
		if err := offchain.AttachTapscriptSig(
			ptx, index, key.PubKey(), tapLeaf.Script, sig.Serialize(),
		); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig.Serialize())
	}

	log.Debugf("signed %d inputs of tx %s", len(sigs), ptx.UnsignedTx.TxID())
	return sigs, nil
}

func (b *txBuilder) VerifyTapscriptSigs(ptx *psbt.Packet) (map[string]struct{}, error) {
	txid := ptx.UnsignedTx.TxID()

	prevoutFetcher, err := getPrevOutputFetcher(ptx)
	if err != nil {
		return nil, err
	}
	txSigHashes := txscript.NewTxSigHashes(ptx.UnsignedTx, prevoutFetcher)

	missing := make(map[string]struct{})
	for index, input := range ptx.Inputs {
		if len(input.TaprootLeafScript) == 0 {
			return nil, fmt.Errorf("missing tapscript leaf for input %d of tx %s", index, txid)
		}
		tapLeaf := input.TaprootLeafScript[0]

		closure, err := script.DecodeClosure(tapLeaf.Script)
		if err != nil {
			return nil, err
		}

		if c, ok := closure.(*script.ConditionMultisigClosure); ok {
			witness, found, err := txutils.GetConditionWitness(input)
			if err != nil {
				return nil, err
			}
			// the condition witness is added right before submission
			if found {
				result, err := c.Evaluate(witness)
				if err != nil {
					return nil, err
				}
				if !result {
					return nil, fmt.Errorf("condition not met for input %d", index)
				}
			}
		}

		if len(tapLeaf.ControlBlock) == 0 {
			return nil, fmt.Errorf("missing control block for input %d", index)
		}
		controlBlock, err := txscript.ParseControlBlock(tapLeaf.ControlBlock)
		if err != nil {
			return nil, err
		}
		rootHash := controlBlock.RootHash(tapLeaf.Script)
		tapKeyFromControlBlock := txscript.ComputeTaprootOutputKey(
			script.UnspendableKey(), rootHash[:],
		)
		pkscript, err := script.P2TRScript(tapKeyFromControlBlock)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pkscript, input.WitnessUtxo.PkScript) {
			return nil, fmt.Errorf("invalid control block for input %d", index)
		}

		keys := closureKeys(closure)
		leafHash := script.LeafHash(tapLeaf.Script)
		for _, tapScriptSig := range input.TaprootScriptSpendSig {
			if !bytes.Equal(tapScriptSig.LeafHash, leafHash[:]) {
				continue
			}

			sig, err := schnorr.ParseSignature(tapScriptSig.Signature)
			if err != nil {
				return nil, err
			}
			pubkey, err := schnorr.ParsePubKey(tapScriptSig.XOnlyPubKey)
			if err != nil {
				return nil, err
			}

			preimage, err := txscript.CalcTapscriptSignaturehash(
				txSigHashes,
				tapScriptSig.SigHash,
				ptx.UnsignedTx,
				index,
				prevoutFetcher,
				txscript.NewBaseTapLeaf(tapLeaf.Script),
			)
			if err != nil {
				return nil, err
			}

			if !sig.Verify(preimage, pubkey) {
				return nil, fmt.Errorf(
					"invalid signature for input %d, sig: %x, pubkey: %x, sighashtype: %d",
					index,
					sig.Serialize(),
					tapScriptSig.XOnlyPubKey,
					tapScriptSig.SigHash,
				)
			}

			keys[hex.EncodeToString(tapScriptSig.XOnlyPubKey)] = true
		}

		for key, signed := range keys {
			if !signed {
				missing[key] = struct{}{}
			}
		}
	}

	return missing, nil
}

// buildPotSpend sends the whole pot to the change address of the given role
// through the given leaf.
func buildPotSpend(
	game *domain.Game, pot domain.Vtxo, role domain.Role, tapscripts []string, leaf []byte,
) (*psbt.Packet, error) {
	if pot.Amount == 0 {
		return nil, fmt.Errorf("invalid pot amount")
	}
	receiver, err := changeScript(game.Party(role).ChangeAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid %s change address: %w", role, err)
	}

	in, err := toVtxoInput(pot, tapscripts, hex.EncodeToString(leaf))
	if err != nil {
		return nil, err
	}

	return offchain.BuildRedeemTx(
		[]offchain.VtxoInput{*in},
		[]*wire.TxOut{{Value: int64(pot.Amount), PkScript: receiver}},
	)
}
