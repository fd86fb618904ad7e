package application_test

import (
	"math"
	"testing"

	"github.com/ArkLabsHQ/coinflip/internal/core/application"
	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestSelectCoins(t *testing.T) {
	vtxo := func(txid string, amount uint64) domain.Vtxo {
		return domain.Vtxo{
			Outpoint: domain.Outpoint{Txid: txid, VOut: 0},
			Amount:   amount,
		}
	}
	a, b, c := vtxo("aa", 500), vtxo("bb", 1000), vtxo("cc", 300)
	d := vtxo("dd", 500)

	fixtures := []struct {
		name                 string
		vtxos                []domain.Vtxo
		target               uint64
		expectedInputs       []domain.Vtxo
		expectedChange       uint64
		expectedInsufficient bool
	}{
		{
			name:           "largest first",
			vtxos:          []domain.Vtxo{a, b, c},
			target:         1200,
			expectedInputs: []domain.Vtxo{b, a},
			expectedChange: 300,
		},
		{
			name:           "exact amount",
			vtxos:          []domain.Vtxo{a, b, c},
			target:         1000,
			expectedInputs: []domain.Vtxo{b},
			expectedChange: 0,
		},
		{
			name:           "all vtxos",
			vtxos:          []domain.Vtxo{a, b, c},
			target:         1800,
			expectedInputs: []domain.Vtxo{b, a, c},
			expectedChange: 0,
		},
		{
			name:           "equal amounts keep their order",
			vtxos:          []domain.Vtxo{d, c, a},
			target:         900,
			expectedInputs: []domain.Vtxo{d, a},
			expectedChange: 100,
		},
		{
			name:           "zero target",
			vtxos:          []domain.Vtxo{a, b},
			target:         0,
			expectedInputs: []domain.Vtxo{},
		},
		{
			name:                 "insufficient funds",
			vtxos:                []domain.Vtxo{a, b, c},
			target:               1801,
			expectedInputs:       []domain.Vtxo{},
			expectedInsufficient: true,
		},
		{
			name:                 "target above max amount",
			vtxos:                []domain.Vtxo{a, b, c},
			target:               math.MaxInt64 + 1,
			expectedInputs:       []domain.Vtxo{},
			expectedInsufficient: true,
		},
		{
			name:                 "no vtxos",
			vtxos:                nil,
			target:               1,
			expectedInputs:       []domain.Vtxo{},
			expectedInsufficient: true,
		},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			original := append([]domain.Vtxo{}, f.vtxos...)

			selection := application.SelectCoins(f.vtxos, f.target)
			require.Equal(t, f.expectedInputs, selection.Inputs)
			require.Equal(t, f.expectedChange, selection.Change)
			require.Equal(t, f.expectedInsufficient, selection.Insufficient)

			// the given list is left untouched
			require.Equal(t, original, append([]domain.Vtxo{}, f.vtxos...))
		})
	}
}
