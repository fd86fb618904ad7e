package domain

import (
	"encoding/hex"
	"fmt"
)

type Outpoint struct {
	Txid string `json:"txid"`
	VOut uint32 `json:"vout"`
}

func (k Outpoint) String() string {
	return fmt.Sprintf("%s:%d", k.Txid, k.VOut)
}

// Vtxo is a spendable offchain output. Tapscripts are the hex encoded leaves
// committed by its taproot output key.
type Vtxo struct {
	Outpoint   Outpoint `json:"outpoint"`
	Amount     uint64   `json:"amount,string"`
	Tapscripts []string `json:"tapscripts"`
	RedeemTx   string   `json:"redeemTx,omitempty"`
}

// VtxoInput is a vtxo funding a game together with the leaf used to spend it.
type VtxoInput struct {
	Vtxo Vtxo   `json:"vtxo"`
	Leaf string `json:"leaf"`
}

func (v VtxoInput) validate() error {
	txid, err := hex.DecodeString(v.Vtxo.Outpoint.Txid)
	if err != nil || len(txid) != 32 {
		return fmt.Errorf("invalid txid %s", v.Vtxo.Outpoint.Txid)
	}
	if v.Vtxo.Amount == 0 {
		return fmt.Errorf("invalid amount for %s", v.Vtxo.Outpoint)
	}
	if len(v.Vtxo.Tapscripts) == 0 {
		return fmt.Errorf("missing tapscripts for %s", v.Vtxo.Outpoint)
	}
	found := false
	for _, tapscript := range v.Vtxo.Tapscripts {
		if _, err := hex.DecodeString(tapscript); err != nil || len(tapscript) == 0 {
			return fmt.Errorf("invalid tapscript for %s", v.Vtxo.Outpoint)
		}
		found = found || tapscript == v.Leaf
	}
	if !found {
		return fmt.Errorf("leaf of %s not found in its tapscripts", v.Vtxo.Outpoint)
	}
	return nil
}

func sumVtxoInputs(vtxos []VtxoInput) uint64 {
	sum := uint64(0)
	for _, v := range vtxos {
		sum += v.Vtxo.Amount
	}
	return sum
}
