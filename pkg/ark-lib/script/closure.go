package script

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Closure is a single tapscript leaf of a contract.
type Closure interface {
	Script() ([]byte, error)
	Decode(script []byte) (bool, error)
	// Witness builds the script path witness from the x-only hex keyed
	// signatures and the optional condition witness.
	Witness(
		controlBlock []byte, signatures map[string][]byte, condition txutils.ConditionWitness,
	) (wire.TxWitness, error)
	Keys() []*btcec.PublicKey
}

func DecodeClosure(script []byte) (Closure, error) {
	if len(script) == 0 {
		return nil, fmt.Errorf("cannot decode empty script")
	}

	types := []struct {
		closure Closure
		name    string
	}{
		{&CLTVMultisigClosure{}, "CLTV Multisig"},
		{&MultisigClosure{}, "Multisig"},
		{&ConditionMultisigClosure{}, "Condition Multisig"},
	}

	var decodeErr []string
	for _, t := range types {
		scriptCopy := make([]byte, len(script))
		copy(scriptCopy, script)
		valid, err := t.closure.Decode(scriptCopy)
		if err != nil {
			decodeErr = append(decodeErr, fmt.Sprintf("%s: %v", t.name, err))
			continue
		}
		if valid {
			return t.closure, nil
		}
	}

	if len(decodeErr) > 0 {
		return nil, fmt.Errorf(
			"failed to decode script %x.\n%s", script, strings.Join(decodeErr, "\n"),
		)
	}

	return nil, fmt.Errorf("script does not match any known closure type: %s",
		hex.EncodeToString(script))
}

// MultisigClosure requires a signature from each of its keys, either as a
// chain of CHECKSIGVERIFY or as CHECKSIGADD summed up to the number of keys.
type MultisigClosure struct {
	PubKeys []*btcec.PublicKey
	Type    MultisigType
}

func (f *MultisigClosure) Keys() []*btcec.PublicKey {
	return f.PubKeys
}

func (f *MultisigClosure) Script() ([]byte, error) {
	if len(f.PubKeys) == 0 {
		return nil, fmt.Errorf("missing pubkeys")
	}

	scriptBuilder := txscript.NewScriptBuilder()

	switch f.Type {
	case MultisigTypeChecksig:
		for i, pubkey := range f.PubKeys {
			scriptBuilder.AddData(schnorr.SerializePubKey(pubkey))
			if i == len(f.PubKeys)-1 {
				scriptBuilder.AddOp(txscript.OP_CHECKSIG)
				continue
			}
			scriptBuilder.AddOp(txscript.OP_CHECKSIGVERIFY)
		}
	case MultisigTypeChecksigAdd:
		for i, pubkey := range f.PubKeys {
			scriptBuilder.AddData(schnorr.SerializePubKey(pubkey))
			if i == 0 {
				scriptBuilder.AddOp(txscript.OP_CHECKSIG)
				continue
			}
			scriptBuilder.AddOp(txscript.OP_CHECKSIGADD)
		}
		scriptBuilder.AddInt64(int64(len(f.PubKeys)))
		scriptBuilder.AddOp(txscript.OP_NUMEQUAL)
	default:
		return nil, fmt.Errorf("unknown multisig type %d", f.Type)
	}

	return scriptBuilder.Script()
}

func (f *MultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("failed to decode: script is empty")
	}

	if valid, err := f.decodeChecksig(script); err != nil || valid {
		if err != nil {
			return false, fmt.Errorf("failed to decode checksig: %w", err)
		}
		return true, nil
	}

	valid, err := f.decodeChecksigAdd(script)
	if err != nil {
		return false, fmt.Errorf("failed to decode checksigadd: %w", err)
	}
	return valid, nil
}

func (f *MultisigClosure) decodeChecksigAdd(script []byte) (bool, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	pubkeys := make([]*btcec.PublicKey, 0)

	for tokenizer.Next() {
		// a small integer is the threshold closing the key list
		if txscript.IsSmallInt(tokenizer.Opcode()) {
			break
		}
		if tokenizer.Opcode() != txscript.OP_DATA_32 {
			return false, nil
		}

		pubkey, err := schnorr.ParsePubKey(tokenizer.Data())
		if err != nil {
			return false, err
		}
		pubkeys = append(pubkeys, pubkey)

		if !tokenizer.Next() {
			return false, nil
		}
		if tokenizer.Opcode() != txscript.OP_CHECKSIGADD &&
			tokenizer.Opcode() != txscript.OP_CHECKSIG {
			return false, nil
		}
	}

	if tokenizer.Err() != nil || len(pubkeys) != txscript.AsSmallInt(tokenizer.Opcode()) {
		return false, nil
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_NUMEQUAL {
		return false, nil
	}

	return f.checkRebuilt(script, pubkeys, MultisigTypeChecksigAdd)
}

func (f *MultisigClosure) decodeChecksig(script []byte) (bool, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	pubkeys := make([]*btcec.PublicKey, 0)

	for tokenizer.Next() {
		if tokenizer.Opcode() != txscript.OP_DATA_32 {
			return false, nil
		}

		pubkey, err := schnorr.ParsePubKey(tokenizer.Data())
		if err != nil {
			return false, err
		}
		pubkeys = append(pubkeys, pubkey)

		if !tokenizer.Next() {
			return false, nil
		}
		if tokenizer.Opcode() != txscript.OP_CHECKSIGVERIFY {
			break
		}
	}

	// This should be the last operation
	if tokenizer.Err() != nil || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return false, nil
	}
	if len(pubkeys) == 0 {
		return false, nil
	}

	return f.checkRebuilt(script, pubkeys, MultisigTypeChecksig)
}

// checkRebuilt sets the decoded fields only if they produce back the exact script.
func (f *MultisigClosure) checkRebuilt(
	script []byte, pubkeys []*btcec.PublicKey, multisigType MultisigType,
) (bool, error) {
	candidate := &MultisigClosure{PubKeys: pubkeys, Type: multisigType}
	rebuilt, err := candidate.Script()
	if err != nil {
		return false, err
	}
	if !bytes.Equal(rebuilt, script) {
		return false, nil
	}

	*f = *candidate
	return true, nil
}

func (f *MultisigClosure) Witness(
	controlBlock []byte, signatures map[string][]byte, _ txutils.ConditionWitness,
) (wire.TxWitness, error) {
	script, err := f.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}
	return f.witness(controlBlock, script, signatures, nil)
}

// witness stacks the signatures in reverse key order, then the extra items,
// the leaf script and the control block.
func (f *MultisigClosure) witness(
	controlBlock, script []byte, signatures map[string][]byte, extra [][]byte,
) (wire.TxWitness, error) {
	witness := make(wire.TxWitness, 0, len(f.PubKeys)+len(extra)+2)

	for i := len(f.PubKeys) - 1; i >= 0; i-- {
		xOnlyPubkey := schnorr.SerializePubKey(f.PubKeys[i])
		sig, ok := signatures[hex.EncodeToString(xOnlyPubkey)]
		if !ok {
			return nil, fmt.Errorf("missing signature for pubkey %x", xOnlyPubkey)
		}
		witness = append(witness, sig)
	}

	witness = append(witness, extra...)
	witness = append(witness, script, controlBlock)
	return witness, nil
}

// CLTVMultisigClosure is a multisig closure only spendable once the absolute
// locktime is reached.
type CLTVMultisigClosure struct {
	MultisigClosure
	Locktime arklib.AbsoluteLocktime
}

func (f *CLTVMultisigClosure) Witness(
	controlBlock []byte, signatures map[string][]byte, _ txutils.ConditionWitness,
) (wire.TxWitness, error) {
	script, err := f.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}
	return f.witness(controlBlock, script, signatures, nil)
}

func (d *CLTVMultisigClosure) Script() ([]byte, error) {
	cltvScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(d.Locktime)).
		AddOps([]byte{
			txscript.OP_CHECKLOCKTIMEVERIFY,
			txscript.OP_DROP,
		}).
		Script()
	if err != nil {
		return nil, err
	}

	multisigScript, err := d.MultisigClosure.Script()
	if err != nil {
		return nil, err
	}

	return append(cltvScript, multisigScript...), nil
}

func (d *CLTVMultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() {
		return false, nil
	}

	var locktime int64
	if txscript.IsSmallInt(tokenizer.Opcode()) {
		locktime = int64(txscript.AsSmallInt(tokenizer.Opcode()))
	} else {
		value, ok := decodeLocktime(tokenizer.Data())
		if !ok {
			return false, nil
		}
		locktime = value
	}

	for _, opCode := range []byte{txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_DROP} {
		if !tokenizer.Next() || tokenizer.Opcode() != opCode {
			return false, nil
		}
	}

	multisigClosure := &MultisigClosure{}
	subScript := tokenizer.Script()[tokenizer.ByteIndex():]
	valid, err := multisigClosure.Decode(subScript)
	if err != nil || !valid {
		return false, err
	}

	d.Locktime = arklib.AbsoluteLocktime(locktime)
	d.MultisigClosure = *multisigClosure

	rebuilt, err := d.Script()
	if err != nil {
		return false, err
	}
	return bytes.Equal(rebuilt, script), nil
}

// decodeLocktime reads a positive little-endian script number of at most 5 bytes.
func decodeLocktime(data []byte) (int64, bool) {
	if len(data) == 0 || len(data) > 5 {
		return 0, false
	}
	// sign bit set means a negative number
	if data[len(data)-1]&0x80 != 0 {
		return 0, false
	}

	var value int64
	for i, b := range data {
		value |= int64(b) << uint(8*i)
	}
	if value > int64(^uint32(0)) {
		return 0, false
	}
	return value, true
}

// ConditionMultisigClosure is a multisig closure guarded by a condition
// script. The condition consumes the condition witness items and must leave
// a true value for the VERIFY that follows it.
type ConditionMultisigClosure struct {
	MultisigClosure
	Condition []byte
}

func (f *ConditionMultisigClosure) Script() ([]byte, error) {
	scriptBuilder := txscript.NewScriptBuilder()

	scriptBuilder.AddOps(f.Condition)
	scriptBuilder.AddOp(txscript.OP_VERIFY)

	multisigScript, err := f.MultisigClosure.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate multisig script: %w", err)
	}
	scriptBuilder.AddOps(multisigScript)

	return scriptBuilder.Script()
}

func (f *ConditionMultisigClosure) Decode(script []byte) (bool, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if len(tokenizer.Script()) == 0 {
		return false, fmt.Errorf("empty script")
	}

	// the condition ends at the first OP_VERIFY
	foundVerify := false
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_VERIFY {
			foundVerify = true
			break
		}
	}
	if !foundVerify || tokenizer.ByteIndex() < 1 {
		return false, nil
	}
	condition := script[:tokenizer.ByteIndex()-1]
	if len(condition) == 0 {
		return false, nil
	}

	multisigClosure := &MultisigClosure{}
	subScript := tokenizer.Script()[tokenizer.ByteIndex():]
	valid, err := multisigClosure.Decode(subScript)
	if err != nil || !valid {
		return false, err
	}

	f.Condition = append([]byte{}, condition...)
	f.MultisigClosure = *multisigClosure

	rebuilt, err := f.Script()
	if err != nil {
		return false, err
	}
	return bytes.Equal(rebuilt, script), nil
}

// Witness fails if the condition does not evaluate to true with the given
// condition witness.
func (f *ConditionMultisigClosure) Witness(
	controlBlock []byte, signatures map[string][]byte, condition txutils.ConditionWitness,
) (wire.TxWitness, error) {
	script, err := f.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}

	ok, err := f.Evaluate(condition)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("condition evaluated to false")
	}

	return f.witness(controlBlock, script, signatures, condition)
}

func (f *ConditionMultisigClosure) Evaluate(condition txutils.ConditionWitness) (bool, error) {
	stack := make(wire.TxWitness, 0, len(condition))
	for _, item := range condition {
		stack = append(stack, append([]byte{}, item...))
	}
	ok, err := EvaluateScriptToBool(f.Condition, stack)
	if err != nil {
		return false, fmt.Errorf("failed to execute condition: %w", err)
	}
	return ok, nil
}
