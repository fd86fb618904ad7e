package txutils

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	CONDITION_WITNESS_KEY_PREFIX = []byte("condition")
	VTXO_TAPROOT_TREE_KEY        = []byte("taptree")
)

// ConditionWitness is the ordered list of extra stack items needed to satisfy
// the condition of a leaf, on top of the signatures. The last item is the top
// of the stack.
type ConditionWitness [][]byte

func (w ConditionWitness) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, wire.TxWitness(w)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeConditionWitness(data []byte) (ConditionWitness, error) {
	witness, err := ReadTxWitness(data)
	if err != nil {
		return nil, err
	}
	return ConditionWitness(witness), nil
}

// SetConditionWitness writes the condition witness of the given input,
// replacing any previous one.
func SetConditionWitness(inIndex int, ptx *psbt.Packet, witness ConditionWitness) error {
	if inIndex < 0 || inIndex >= len(ptx.Inputs) {
		return fmt.Errorf("input index %d out of range", inIndex)
	}

	value, err := witness.Encode()
	if err != nil {
		return err
	}

	unknowns := make([]*psbt.Unknown, 0, len(ptx.Inputs[inIndex].Unknowns)+1)
	for _, u := range ptx.Inputs[inIndex].Unknowns {
		if !bytes.Equal(u.Key, CONDITION_WITNESS_KEY_PREFIX) {
			unknowns = append(unknowns, u)
		}
	}
	ptx.Inputs[inIndex].Unknowns = append(unknowns, &psbt.Unknown{
		Key:   CONDITION_WITNESS_KEY_PREFIX,
		Value: value,
	})
	return nil
}

// GetConditionWitness returns the condition witness of the given input, the
// boolean is false if the input carries none.
func GetConditionWitness(in psbt.PInput) (ConditionWitness, bool, error) {
	for _, u := range in.Unknowns {
		if bytes.Equal(u.Key, CONDITION_WITNESS_KEY_PREFIX) {
			witness, err := DecodeConditionWitness(u.Value)
			if err != nil {
				return nil, true, err
			}
			return witness, true, nil
		}
	}

	return nil, false, nil
}

// AddTaprootTree adds the whole taproot tree of the VTXO to the given PSBT input.
// it follows the format of PSBT_OUT_TAP_TREE / BIP-371
func AddTaprootTree(inIndex int, ptx *psbt.Packet, leaves []string) error {
	tapscriptsBytes, err := TapTree(leaves).Encode()
	if err != nil {
		return err
	}

	ptx.Inputs[inIndex].Unknowns = append(ptx.Inputs[inIndex].Unknowns, &psbt.Unknown{
		Value: tapscriptsBytes,
		Key:   VTXO_TAPROOT_TREE_KEY,
	})
	return nil
}

// GetTaprootTree returns the taproot tree of the given PSBT input.
func GetTaprootTree(in psbt.PInput) (TapTree, error) {
	for _, u := range in.Unknowns {
		if bytes.Equal(u.Key, VTXO_TAPROOT_TREE_KEY) {
			return DecodeTapTree(u.Value)
		}
	}

	return nil, fmt.Errorf("no taproot tree found")
}

func ReadTxWitness(witnessSerialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(witnessSerialized)

	// first we extract the number of witness elements
	witCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if witCount > uint64(len(witnessSerialized)) {
		return nil, fmt.Errorf("invalid witness count %d", witCount)
	}

	// read each witness item
	witness := make(wire.TxWitness, witCount)
	for i := uint64(0); i < witCount; i++ {
		witness[i], err = wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "witness")
		if err != nil {
			return nil, err
		}
	}

	return witness, nil
}
