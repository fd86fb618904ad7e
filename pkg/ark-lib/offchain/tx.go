package offchain

import (
	"bytes"
	"encoding/hex"
	"fmt"

	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/script"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

const (
	// signal CLTV with input sequence number
	cltvSequence = wire.MaxTxInSequenceNum - 1

	redeemTxVersion = 2
)

type VtxoInput struct {
	Outpoint *wire.OutPoint
	Amount   int64
	// Tapscript is the path used to spend the vtxo
	Tapscript          *waddrmgr.Tapscript
	RevealedTapscripts []string
}

// NewVtxoInput returns the input spending the vtxo through the given leaf,
// the leaf must be one of the tapscripts.
func NewVtxoInput(
	outpoint *wire.OutPoint, amount int64, tapscripts []string, leaf string,
) (*VtxoInput, error) {
	scripts, err := script.ParseTapscripts(tapscripts)
	if err != nil {
		return nil, err
	}
	leafScript, err := hex.DecodeString(leaf)
	if err != nil {
		return nil, fmt.Errorf("invalid leaf %s: %w", leaf, err)
	}

	found := false
	for _, s := range scripts {
		if bytes.Equal(s, leafScript) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("selected leaf not found")
	}

	_, tree := script.NewTaprootTree(scripts)
	proof, err := tree.GetTaprootMerkleProof(script.LeafHash(leafScript))
	if err != nil {
		return nil, err
	}
	ctrlBlock, err := txscript.ParseControlBlock(proof.ControlBlock)
	if err != nil {
		return nil, err
	}

	return &VtxoInput{
		Outpoint: outpoint,
		Amount:   amount,
		Tapscript: &waddrmgr.Tapscript{
			Type:           waddrmgr.TapscriptTypePartialReveal,
			ControlBlock:   ctrlBlock,
			RevealedScript: proof.Script,
		},
		RevealedTapscripts: tapscripts,
	}, nil
}

// BuildRedeemTx builds an offchain tx spending the given vtxos through their
// selected leaf. Inputs and outputs must carry the same amount.
func BuildRedeemTx(vtxos []VtxoInput, outputs []*wire.TxOut) (*psbt.Packet, error) {
	if len(vtxos) <= 0 {
		return nil, fmt.Errorf("missing vtxos")
	}

	ins := make([]*wire.OutPoint, 0, len(vtxos))
	sequences := make([]uint32, 0, len(vtxos))
	witnessUtxos := make(map[int]*wire.TxOut)
	signingTapLeaves := make(map[int]*psbt.TaprootTapLeafScript)
	tapscripts := make(map[int][]string)
	txLocktime := arklib.AbsoluteLocktime(0)
	inputAmount := int64(0)

	for index, vtxo := range vtxos {
		if len(vtxo.RevealedTapscripts) == 0 {
			return nil, fmt.Errorf("missing tapscripts for input %d", index)
		}
		if vtxo.Tapscript == nil || vtxo.Outpoint == nil {
			return nil, fmt.Errorf("missing spending path for input %d", index)
		}

		tapscripts[index] = vtxo.RevealedTapscripts
		inputAmount += vtxo.Amount

		rootHash := vtxo.Tapscript.ControlBlock.RootHash(vtxo.Tapscript.RevealedScript)
		taprootKey := txscript.ComputeTaprootOutputKey(script.UnspendableKey(), rootHash)

		vtxoOutputScript, err := script.P2TRScript(taprootKey)
		if err != nil {
			return nil, err
		}

		witnessUtxos[index] = &wire.TxOut{
			Value:    vtxo.Amount,
			PkScript: vtxoOutputScript,
		}

		ctrlBlockBytes, err := vtxo.Tapscript.ControlBlock.ToBytes()
		if err != nil {
			return nil, err
		}

		signingTapLeaves[index] = &psbt.TaprootTapLeafScript{
			ControlBlock: ctrlBlockBytes,
			Script:       vtxo.Tapscript.RevealedScript,
			LeafVersion:  txscript.BaseLeafVersion,
		}

		// leaves that are not known closures (ie. server exit paths) carry no locktime
		var locktime *arklib.AbsoluteLocktime
		closure, err := script.DecodeClosure(vtxo.Tapscript.RevealedScript)
		if err == nil {
			if cltv, ok := closure.(*script.CLTVMultisigClosure); ok {
				locktime = &cltv.Locktime
				if txLocktime != 0 && txLocktime.IsSeconds() != locktime.IsSeconds() {
					return nil, fmt.Errorf("mixed absolute locktime types")
				}
				if *locktime > txLocktime {
					txLocktime = *locktime
				}
			}
		}

		ins = append(ins, vtxo.Outpoint)
		if locktime != nil {
			sequences = append(sequences, cltvSequence)
		} else {
			sequences = append(sequences, wire.MaxTxInSequenceNum)
		}
	}

	outputAmount := int64(0)
	for _, output := range outputs {
		outputAmount += output.Value
	}
	if inputAmount != outputAmount {
		return nil, fmt.Errorf(
			"input amount is not equal to output amount: %d != %d", inputAmount, outputAmount,
		)
	}

	redeemTx, err := psbt.New(ins, outputs, redeemTxVersion, uint32(txLocktime), sequences)
	if err != nil {
		return nil, err
	}

	for i := range redeemTx.Inputs {
		redeemTx.Inputs[i].WitnessUtxo = witnessUtxos[i]
		redeemTx.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{signingTapLeaves[i]}
		if err := txutils.AddTaprootTree(i, redeemTx, tapscripts[i]); err != nil {
			return nil, err
		}
	}

	return redeemTx, nil
}

// AttachTapscriptSig sets the signature of pubkey for the given leaf of the
// input, replacing any signature previously attached by the same key for the
// same leaf.
func AttachTapscriptSig(
	ptx *psbt.Packet, inIndex int, pubkey *btcec.PublicKey, leafScript, sig []byte,
) error {
	if inIndex < 0 || inIndex >= len(ptx.Inputs) {
		return fmt.Errorf("input index %d out of range", inIndex)
	}
	if pubkey == nil {
		return fmt.Errorf("missing pubkey")
	}
	if len(sig) != schnorr.SignatureSize {
		return fmt.Errorf(
			"invalid signature length, expected %d got %d", schnorr.SignatureSize, len(sig),
		)
	}

	xOnlyPubkey := schnorr.SerializePubKey(pubkey)
	leafHash := script.LeafHash(leafScript)
	tapScriptSig := &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: xOnlyPubkey,
		LeafHash:    leafHash[:],
		Signature:   append([]byte{}, sig...),
		SigHash:     txscript.SigHashDefault,
	}

	input := &ptx.Inputs[inIndex]
	for i, s := range input.TaprootScriptSpendSig {
		if bytes.Equal(s.XOnlyPubKey, xOnlyPubkey) && bytes.Equal(s.LeafHash, leafHash[:]) {
			input.TaprootScriptSpendSig[i] = tapScriptSig
			return nil
		}
	}
	input.TaprootScriptSpendSig = append(input.TaprootScriptSpendSig, tapScriptSig)
	return nil
}
