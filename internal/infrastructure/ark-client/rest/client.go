package restclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ArkLabsHQ/coinflip/internal/core/domain"
	"github.com/ArkLabsHQ/coinflip/internal/core/ports"
	arklib "github.com/ArkLabsHQ/coinflip/pkg/ark-lib"
	log "github.com/sirupsen/logrus"
)

const defaultTimeout = 15 * time.Second

type restClient struct {
	serverUrl   string
	ownerPubkey []byte
	client      *http.Client

	lock    sync.RWMutex
	info    *ports.ServerInfo
	address string
}

// NewClient returns a client of the ledger server REST api. Vtxos of the
// owner funding address that the server lists without tapscripts get the
// default ones of the owner key.
func NewClient(serverUrl string, ownerPubkey []byte) (ports.ArkClient, error) {
	if serverUrl == "" {
		return nil, fmt.Errorf("missing server url")
	}
	if u, err := url.Parse(serverUrl); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %s", serverUrl)
	}
	if len(ownerPubkey) != 32 {
		return nil, fmt.Errorf("invalid owner pubkey: expected 32 bytes, got %d", len(ownerPubkey))
	}
	return &restClient{
		serverUrl:   strings.TrimRight(serverUrl, "/"),
		ownerPubkey: ownerPubkey,
		client:      &http.Client{Timeout: defaultTimeout},
	}, nil
}

type infoResponse struct {
	Pubkey  string `json:"pubkey"`
	Network string `json:"network"`
}

func (c *restClient) GetInfo(ctx context.Context) (*ports.ServerInfo, error) {
	resp := &infoResponse{}
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, resp); err != nil {
		return nil, err
	}
	if resp.Pubkey == "" || resp.Network == "" {
		return nil, fmt.Errorf("invalid server info: missing required fields")
	}
	// the server reports a compressed key, drop its parity prefix
	if len(resp.Pubkey) != 66 {
		return nil, fmt.Errorf("invalid server pubkey %s", resp.Pubkey)
	}
	pubkey, err := hex.DecodeString(resp.Pubkey[2:])
	if err != nil {
		return nil, fmt.Errorf("invalid server pubkey: %s", err)
	}

	network, err := arklib.NetworkFromString(resp.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid server info: %s", err)
	}
	info := &ports.ServerInfo{
		Pubkey:  pubkey,
		Network: network,
	}

	contract, err := domain.FundingContract(c.ownerPubkey, pubkey)
	if err != nil {
		return nil, err
	}
	address, err := contract.Address(info.Network)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	c.info = info
	c.address = address
	c.lock.Unlock()

	return info, nil
}

type outpoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type vtxo struct {
	Outpoint   outpoint `json:"outpoint"`
	Amount     string   `json:"amount"`
	Tapscripts []string `json:"tapscripts"`
	RedeemTx   string   `json:"redeemTx"`
}

type listVtxosResponse struct {
	SpendableVtxos []vtxo `json:"spendableVtxos"`
}

func (c *restClient) ListVtxos(ctx context.Context, address string) ([]domain.Vtxo, error) {
	if address == "" {
		return nil, fmt.Errorf("missing address")
	}

	resp := &listVtxosResponse{}
	path := fmt.Sprintf("/v1/vtxos/%s", url.PathEscape(address))
	if err := c.do(ctx, http.MethodGet, path, nil, resp); err != nil {
		return nil, err
	}

	var defaultTapscripts []string
	vtxos := make([]domain.Vtxo, 0, len(resp.SpendableVtxos))
	for _, v := range resp.SpendableVtxos {
		amount, err := strconv.ParseUint(v.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q for vtxo %s:%d", v.Amount, v.Outpoint.Txid, v.Outpoint.Vout)
		}

		tapscripts := v.Tapscripts
		if len(tapscripts) <= 0 {
			if defaultTapscripts == nil {
				scripts, err := c.defaultTapscripts(ctx, address)
				if err != nil {
					return nil, err
				}
				defaultTapscripts = scripts
			}
			tapscripts = defaultTapscripts
		}

		vtxos = append(vtxos, domain.Vtxo{
			Outpoint:   domain.Outpoint{Txid: v.Outpoint.Txid, VOut: v.Outpoint.Vout},
			Amount:     amount,
			Tapscripts: tapscripts,
			RedeemTx:   v.RedeemTx,
		})
	}
	return vtxos, nil
}

type redeemTxRequest struct {
	RedeemTx string `json:"redeemTx"`
}

type redeemTxResponse struct {
	Txid string `json:"txid"`
}

func (c *restClient) SubmitRedeemTx(ctx context.Context, redeemTx string) (string, error) {
	if redeemTx == "" {
		return "", fmt.Errorf("missing redeem tx")
	}
	body, err := json.Marshal(redeemTxRequest{redeemTx})
	if err != nil {
		return "", err
	}

	resp := &redeemTxResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/redeem-tx", body, resp); err != nil {
		return "", err
	}
	log.Debugf("submitted redeem tx %s", resp.Txid)
	return resp.Txid, nil
}

// defaultTapscripts returns the owner default tapscripts if the address is
// its funding one, an empty list otherwise.
func (c *restClient) defaultTapscripts(ctx context.Context, address string) ([]string, error) {
	c.lock.RLock()
	info, ownAddress := c.info, c.address
	c.lock.RUnlock()

	if info == nil {
		var err error
		if info, err = c.GetInfo(ctx); err != nil {
			return nil, fmt.Errorf("failed to get server info: %w", err)
		}
		c.lock.RLock()
		ownAddress = c.address
		c.lock.RUnlock()
	}

	if address != ownAddress {
		return []string{}, nil
	}
	return domain.DefaultFundingTapscripts(c.ownerPubkey, info.Pubkey)
}

func (c *restClient) do(ctx context.Context, method, path string, body []byte, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverUrl+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach ledger server: %w", err)
	}
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ports.LedgerError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(buf),
		}
	}

	if err := json.Unmarshal(buf, result); err != nil {
		return fmt.Errorf("invalid response from ledger server: %s", err)
	}
	return nil
}

// errorMessage extracts the message of a grpc-gateway error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var gatewayErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &gatewayErr); err == nil && gatewayErr.Message != "" {
		return gatewayErr.Message
	}
	return strings.TrimSpace(string(body))
}
