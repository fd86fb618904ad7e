package application

import (
	"math"
	"sort"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/coinset"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CoinSelection is the result of SelectCoins. Insufficient is set when all
// the given vtxos together do not cover the target, in that case Inputs is
// empty.
type CoinSelection struct {
	Inputs       []domain.Vtxo
	Change       uint64
	Insufficient bool
}

// SelectCoins picks the largest vtxos first until their sum covers the
// target. Vtxos with the same amount keep their relative order.
func SelectCoins(vtxos []domain.Vtxo, target uint64) CoinSelection {
	if target == 0 {
		return CoinSelection{Inputs: []domain.Vtxo{}}
	}
	// no set of vtxos can cover more than a btcutil.Amount
	if target > math.MaxInt64 {
		return CoinSelection{Inputs: []domain.Vtxo{}, Insufficient: true}
	}

	sorted := make([]domain.Vtxo, len(vtxos))
	copy(sorted, vtxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	coins := make([]coinset.Coin, 0, len(sorted))
	for _, vtxo := range sorted {
		coins = append(coins, newCoin(vtxo))
	}

	selector := coinset.MinIndexCoinSelector{MaxInputs: len(coins)}
	selected, err := selector.CoinSelect(btcutil.Amount(target), coins)
	if err != nil {
		return CoinSelection{Inputs: []domain.Vtxo{}, Insufficient: true}
	}

	inputs := make([]domain.Vtxo, 0, len(selected.Coins()))
	total := uint64(0)
	for _, c := range selected.Coins() {
		vtxo := c.(coin).vtxo
		inputs = append(inputs, vtxo)
		total += vtxo.Amount
	}
	return CoinSelection{Inputs: inputs, Change: total - target}
}

// coin implements coinset.Coin interface
type coin struct {
	vtxo domain.Vtxo
	hash chainhash.Hash
}

func newCoin(vtxo domain.Vtxo) coin {
	c := coin{vtxo: vtxo}
	// an unparsable txid only matters to the ledger, selection is by value
	if hash, err := chainhash.NewHashFromStr(vtxo.Outpoint.Txid); err == nil {
		c.hash = *hash
	}
	return c
}

func (c coin) Hash() *chainhash.Hash {
	return &c.hash
}

func (c coin) Index() uint32 {
	return c.vtxo.Outpoint.VOut
}

func (c coin) Value() btcutil.Amount {
	return btcutil.Amount(c.vtxo.Amount)
}

func (c coin) PkScript() []byte {
	return nil
}

// vtxos are spendable right away
func (c coin) NumConfs() int64 {
	return 1
}

func (c coin) ValueAge() int64 {
	return int64(c.vtxo.Amount)
}
