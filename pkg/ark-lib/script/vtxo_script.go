package script

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

type TaprootMerkleProof struct {
	ControlBlock []byte
	Script       []byte
}

// TapscriptsVtxoScript is a contract made of known closures.
type TapscriptsVtxoScript struct {
	Closures []Closure
}

func (v *TapscriptsVtxoScript) Encode() ([]string, error) {
	encoded := make([]string, 0, len(v.Closures))
	for _, closure := range v.Closures {
		script, err := closure.Script()
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, hex.EncodeToString(script))
	}
	return encoded, nil
}

func (v *TapscriptsVtxoScript) Decode(scripts []string) error {
	if len(scripts) == 0 {
		return fmt.Errorf("empty scripts array")
	}

	v.Closures = make([]Closure, 0, len(scripts))
	for _, script := range scripts {
		scriptBytes, err := hex.DecodeString(script)
		if err != nil {
			return err
		}

		closure, err := DecodeClosure(scriptBytes)
		if err != nil {
			return err
		}
		v.Closures = append(v.Closures, closure)
	}

	return nil
}

func (v *TapscriptsVtxoScript) TapTree() (*btcec.PublicKey, *TaprootTree, error) {
	scripts := make([][]byte, 0, len(v.Closures))
	for i, closure := range v.Closures {
		script, err := closure.Script()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get script for closure %d: %w", i, err)
		}
		scripts = append(scripts, script)
	}

	taprootKey, tree := NewTaprootTree(scripts)
	return taprootKey, tree, nil
}

// ParseTapscripts decodes hex encoded leaves, they don't need to be known closures.
func ParseTapscripts(tapscripts []string) ([][]byte, error) {
	if len(tapscripts) == 0 {
		return nil, fmt.Errorf("empty tapscripts array")
	}

	scripts := make([][]byte, 0, len(tapscripts))
	for _, tapscript := range tapscripts {
		script, err := hex.DecodeString(tapscript)
		if err != nil {
			return nil, fmt.Errorf("invalid tapscript %s: %w", tapscript, err)
		}
		if len(script) == 0 {
			return nil, fmt.Errorf("empty tapscript")
		}
		scripts = append(scripts, script)
	}
	return scripts, nil
}

// NewTaprootTree assembles the leaves and returns the output key committing
// to them with the unspendable internal key.
func NewTaprootTree(scripts [][]byte) (*btcec.PublicKey, *TaprootTree) {
	leaves := make([]txscript.TapLeaf, 0, len(scripts))
	for _, script := range scripts {
		leaves = append(leaves, txscript.NewBaseTapLeaf(script))
	}

	tapTree := txscript.AssembleTaprootScriptTree(leaves...)
	root := tapTree.RootNode.TapHash()
	taprootKey := txscript.ComputeTaprootOutputKey(UnspendableKey(), root[:])

	return taprootKey, &TaprootTree{tapTree}
}

func LeafHash(script []byte) chainhash.Hash {
	return txscript.NewBaseTapLeaf(script).TapHash()
}

// TaprootTree wraps txscript.IndexedTapScriptTree to expose the proofs
// needed to spend a leaf.
type TaprootTree struct {
	*txscript.IndexedTapScriptTree
}

func (b *TaprootTree) GetRoot() chainhash.Hash {
	return b.RootNode.TapHash()
}

func (b *TaprootTree) GetTaprootMerkleProof(
	leafhash chainhash.Hash,
) (*TaprootMerkleProof, error) {
	index, ok := b.LeafProofIndex[leafhash]
	if !ok {
		return nil, fmt.Errorf("leaf %s not found in tree", leafhash.String())
	}
	proof := b.LeafMerkleProofs[index]

	controlBlock := proof.ToControlBlock(UnspendableKey())
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	return &TaprootMerkleProof{
		ControlBlock: controlBlockBytes,
		Script:       proof.Script,
	}, nil
}

// GetLeaves returns the leaf hashes in insertion order.
func (b *TaprootTree) GetLeaves() []chainhash.Hash {
	leafHashes := make([]chainhash.Hash, 0, len(b.LeafMerkleProofs))
	for _, proof := range b.LeafMerkleProofs {
		leafHashes = append(leafHashes, proof.TapHash())
	}
	return leafHashes
}
