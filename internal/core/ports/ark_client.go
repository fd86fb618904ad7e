package ports

import (
	"context"
	"fmt"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
)

type ServerInfo struct {
	// Pubkey is the x-only key of the ledger server.
	Pubkey  []byte
	Network arklib.Network
}

// ArkClient talks to the ledger server.
type ArkClient interface {
	GetInfo(ctx context.Context) (*ServerInfo, error)
	// ListVtxos returns the spendable vtxos locked by the given address.
	ListVtxos(ctx context.Context, address string) ([]domain.Vtxo, error)
	// SubmitRedeemTx submits a b64 encoded signed psbt and returns its txid.
	SubmitRedeemTx(ctx context.Context, redeemTx string) (string, error)
}

// LedgerError is returned when the ledger server answers with a non 2xx
// status.
type LedgerError struct {
	StatusCode int
	Message    string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger server error (%d): %s", e.StatusCode, e.Message)
}
