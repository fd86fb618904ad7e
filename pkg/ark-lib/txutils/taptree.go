package txutils

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const tapTreeLeafDepth = 1

// TapTree is the list of hex encoded leaf scripts of a vtxo.
type TapTree []string

// Encode serializes the leaves as BIP-371 tap tree entries:
// <depth> <leaf version> <compact size script len> <script>.
func (t TapTree) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, leaf := range t {
		script, err := hex.DecodeString(leaf)
		if err != nil {
			return nil, fmt.Errorf("invalid tapscript %s: %w", leaf, err)
		}
		if err := buf.WriteByte(tapTreeLeafDepth); err != nil {
			return nil, err
		}
		if err := buf.WriteByte(byte(txscript.BaseLeafVersion)); err != nil {
			return nil, err
		}
		if err := wire.WriteVarBytes(&buf, 0, script); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DecodeTapTree(data []byte) (TapTree, error) {
	r := bytes.NewReader(data)
	leaves := make(TapTree, 0)
	for r.Len() > 0 {
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		leafVersion, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if txscript.TapscriptLeafVersion(leafVersion) != txscript.BaseLeafVersion {
			return nil, fmt.Errorf("unsupported leaf version %x", leafVersion)
		}
		script, err := wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "tapscript")
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, hex.EncodeToString(script))
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("empty taproot tree")
	}
	return leaves, nil
}
