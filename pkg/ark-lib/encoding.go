package arklib

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/txscript"
)

// MaxAddressLength extends the bech32 90 chars limit, an Ark address embeds
// two 32-byte keys.
const MaxAddressLength = 1023

// Address represents an Ark address with prefix, signer public key, and VTXO taproot key.
type Address struct {
	HRP        string
	Signer     *btcec.PublicKey
	VtxoTapKey *btcec.PublicKey
}

func (a *Address) GetPkScript() ([]byte, error) {
	if a.VtxoTapKey == nil {
		return nil, fmt.Errorf("missing vtxo taproot key")
	}

	pkScript, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(a.VtxoTapKey)).
		Script()
	return pkScript, nil
}

// Encode converts the address to its bech32m string representation.
func (a *Address) Encode() (string, error) {
	if a.Signer == nil {
		return "", fmt.Errorf("missing signer public key")
	}
	if a.VtxoTapKey == nil {
		return "", fmt.Errorf("missing vtxo taproot key")
	}

	combinedKey := append(
		schnorr.SerializePubKey(a.Signer), schnorr.SerializePubKey(a.VtxoTapKey)...,
	)
	grp, err := bech32.ConvertBits(combinedKey, 8, 5, true)
	if err != nil {
		return "", err
	}
	addr, err := bech32.EncodeM(a.HRP, grp)
	if err != nil {
		return "", err
	}
	if len(addr) > MaxAddressLength {
		return "", fmt.Errorf("address exceeds max length of %d", MaxAddressLength)
	}
	return addr, nil
}

// DecodeAddress parses a bech32m encoded address string and returns an Address struct.
func DecodeAddress(addr string) (*Address, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("missing address")
	}
	if len(addr) > MaxAddressLength {
		return nil, fmt.Errorf("address exceeds max length of %d", MaxAddressLength)
	}

	prefix, buf, err := bech32.DecodeNoLimit(addr)
	if err != nil {
		return nil, err
	}
	if prefix != Bitcoin.Addr && prefix != BitcoinTestNet.Addr && prefix != BitcoinRegTest.Addr {
		return nil, fmt.Errorf("unknown prefix")
	}
	// DecodeNoLimit accepts both checksum constants, only bech32m is valid
	if expected, err := bech32.EncodeM(prefix, buf); err != nil ||
		!strings.EqualFold(expected, addr) {
		return nil, fmt.Errorf("invalid checksum, expected bech32m encoding")
	}
	grp, err := bech32.ConvertBits(buf, 5, 8, false)
	if err != nil {
		return nil, err
	}

	// [signerKey, vtxoKey]
	if len(grp) != 32+32 {
		return nil, fmt.Errorf("invalid address bytes length, expected 64 got %d", len(grp))
	}

	signerKey, err := schnorr.ParsePubKey(grp[:32])
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer public key: %s", err)
	}

	vtxoKey, err := schnorr.ParsePubKey(grp[32:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse vtxo taproot key: %s", err)
	}

	return &Address{
		HRP:        prefix,
		Signer:     signerKey,
		VtxoTapKey: vtxoKey,
	}, nil
}
