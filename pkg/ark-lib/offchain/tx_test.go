package offchain_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/offchain"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/script"
	"github.com/ArkLabsHQ/coinflip/pkg/ark-lib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type keys struct {
	owner  *btcec.PublicKey
	signer *btcec.PublicKey
}

func newKeys(t *testing.T) keys {
	owner, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signer, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return keys{owner.PubKey(), signer.PubKey()}
}

func tapscripts(t *testing.T, k keys, locktime arklib.AbsoluteLocktime) []string {
	vtxoScript := &script.TapscriptsVtxoScript{
		Closures: []script.Closure{
			&script.MultisigClosure{
				PubKeys: []*btcec.PublicKey{k.owner, k.signer},
				Type:    script.MultisigTypeChecksigAdd,
			},
			&script.CLTVMultisigClosure{
				MultisigClosure: script.MultisigClosure{PubKeys: []*btcec.PublicKey{k.owner}},
				Locktime:        locktime,
			},
		},
	}
	encoded, err := vtxoScript.Encode()
	require.NoError(t, err)
	return encoded
}

func p2tr(t *testing.T, k *btcec.PublicKey) []byte {
	pkScript, err := script.P2TRScript(k)
	require.NoError(t, err)
	return pkScript
}

func TestBuildRedeemTx(t *testing.T) {
	k := newKeys(t)
	scripts := tapscripts(t, k, 840_000)

	collaborative, err := offchain.NewVtxoInput(
		&wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 1}, 1500, scripts, scripts[0],
	)
	require.NoError(t, err)
	timelocked, err := offchain.NewVtxoInput(
		&wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0}, 500, scripts, scripts[1],
	)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		outputs := []*wire.TxOut{
			{Value: 1200, PkScript: p2tr(t, k.owner)},
			{Value: 800, PkScript: p2tr(t, k.signer)},
		}
		ptx, err := offchain.BuildRedeemTx(
			[]offchain.VtxoInput{*collaborative, *timelocked}, outputs,
		)
		require.NoError(t, err)
		require.NotNil(t, ptx)

		require.Equal(t, int32(2), ptx.UnsignedTx.Version)
		require.Len(t, ptx.UnsignedTx.TxOut, 2)
		require.Equal(t, uint32(840_000), ptx.UnsignedTx.LockTime)
		require.Equal(t, wire.MaxTxInSequenceNum, ptx.UnsignedTx.TxIn[0].Sequence)
		require.Equal(t, wire.MaxTxInSequenceNum-1, ptx.UnsignedTx.TxIn[1].Sequence)

		parsed, err := script.ParseTapscripts(scripts)
		require.NoError(t, err)
		taprootKey, _ := script.NewTaprootTree(parsed)
		expectedPkScript := p2tr(t, taprootKey)

		for i, in := range ptx.Inputs {
			require.NotNil(t, in.WitnessUtxo)
			require.Equal(t, expectedPkScript, in.WitnessUtxo.PkScript)
			require.Len(t, in.TaprootLeafScript, 1)
			require.Equal(t, scripts[i], hex.EncodeToString(in.TaprootLeafScript[0].Script))

			tree, err := txutils.GetTaprootTree(in)
			require.NoError(t, err)
			require.Equal(t, txutils.TapTree(scripts), tree)
		}
		require.Equal(t, int64(1500), ptx.Inputs[0].WitnessUtxo.Value)
		require.Equal(t, int64(500), ptx.Inputs[1].WitnessUtxo.Value)
	})

	t.Run("invalid", func(t *testing.T) {
		otherKeys := newKeys(t)
		secondsScripts := tapscripts(t, otherKeys, 1_734_437_274)
		secondsInput, err := offchain.NewVtxoInput(
			&wire.OutPoint{Hash: chainhash.Hash{0x03}, Index: 0},
			500, secondsScripts, secondsScripts[1],
		)
		require.NoError(t, err)

		fixtures := []struct {
			name          string
			vtxos         []offchain.VtxoInput
			outputs       []*wire.TxOut
			expectedError string
		}{
			{
				name:          "no inputs",
				vtxos:         nil,
				outputs:       []*wire.TxOut{{Value: 1000, PkScript: p2tr(t, k.owner)}},
				expectedError: "missing vtxos",
			},
			{
				name:          "value created",
				vtxos:         []offchain.VtxoInput{*collaborative},
				outputs:       []*wire.TxOut{{Value: 1501, PkScript: p2tr(t, k.owner)}},
				expectedError: "input amount is not equal to output amount",
			},
			{
				name:          "mixed locktimes",
				vtxos:         []offchain.VtxoInput{*timelocked, *secondsInput},
				outputs:       []*wire.TxOut{{Value: 1000, PkScript: p2tr(t, k.owner)}},
				expectedError: "mixed absolute locktime types",
			},
		}

		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				ptx, err := offchain.BuildRedeemTx(f.vtxos, f.outputs)
				require.Error(t, err)
				require.Contains(t, err.Error(), f.expectedError)
				require.Nil(t, ptx)
			})
		}
	})

	t.Run("leaf not in tapscripts", func(t *testing.T) {
		input, err := offchain.NewVtxoInput(
			&wire.OutPoint{}, 1000, scripts[:1], scripts[1],
		)
		require.EqualError(t, err, "selected leaf not found")
		require.Nil(t, input)
	})
}

func TestAttachTapscriptSig(t *testing.T) {
	k := newKeys(t)
	scripts := tapscripts(t, k, 840_000)
	input, err := offchain.NewVtxoInput(
		&wire.OutPoint{Hash: chainhash.Hash{0x01}}, 1000, scripts, scripts[0],
	)
	require.NoError(t, err)

	leaf, err := hex.DecodeString(scripts[0])
	require.NoError(t, err)
	ownerSig := bytes.Repeat([]byte{0x01}, 64)
	signerSig := bytes.Repeat([]byte{0x02}, 64)

	type signature struct {
		pubkey *btcec.PublicKey
		sig    []byte
	}

	attach := func(order []signature) []byte {
		ptx, err := offchain.BuildRedeemTx(
			[]offchain.VtxoInput{*input},
			[]*wire.TxOut{{Value: 1000, PkScript: p2tr(t, k.owner)}},
		)
		require.NoError(t, err)
		for _, o := range order {
			require.NoError(t, offchain.AttachTapscriptSig(
				ptx, 0, o.pubkey, leaf, o.sig,
			))
		}
		require.Len(t, ptx.Inputs[0].TaprootScriptSpendSig, 2)
		sigs := make(map[string][]byte)
		leafHash := script.LeafHash(leaf)
		for _, s := range ptx.Inputs[0].TaprootScriptSpendSig {
			require.Equal(t, leafHash[:], s.LeafHash)
			sigs[hex.EncodeToString(s.XOnlyPubKey)] = s.Signature
		}
		require.Equal(t, ownerSig, sigs[hex.EncodeToString(schnorr.SerializePubKey(k.owner))])
		require.Equal(t, signerSig, sigs[hex.EncodeToString(schnorr.SerializePubKey(k.signer))])
		txid := ptx.UnsignedTx.TxHash()
		return txid[:]
	}

	t.Run("order independent", func(t *testing.T) {
		txid1 := attach([]signature{{k.owner, ownerSig}, {k.signer, signerSig}})
		txid2 := attach([]signature{{k.signer, signerSig}, {k.owner, ownerSig}})
		require.Equal(t, txid1, txid2)
	})

	t.Run("duplicates are replaced", func(t *testing.T) {
		attach([]signature{
			{k.owner, bytes.Repeat([]byte{0x09}, 64)},
			{k.signer, signerSig},
			{k.owner, ownerSig},
		})
	})

	t.Run("invalid", func(t *testing.T) {
		ptx, err := offchain.BuildRedeemTx(
			[]offchain.VtxoInput{*input},
			[]*wire.TxOut{{Value: 1000, PkScript: p2tr(t, k.owner)}},
		)
		require.NoError(t, err)

		err = offchain.AttachTapscriptSig(ptx, 1, k.owner, leaf, ownerSig)
		require.Error(t, err)
		err = offchain.AttachTapscriptSig(ptx, 0, k.owner, leaf, ownerSig[:10])
		require.Error(t, err)
		require.Empty(t, ptx.Inputs[0].TaprootScriptSpendSig)
	})
}
