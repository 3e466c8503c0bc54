package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/rpc"

	"poolKeeper/internal/model"
)

// rpcNotFound is bitcoind's RPC_INVALID_ADDRESS_OR_KEY, returned for
// unknown mempool entries.
const rpcNotFound = -5

// ErrNoEstimate is returned when the node has not gathered enough data to
// estimate a fee rate.
var ErrNoEstimate = errors.New("chain: no fee estimate available")

// Client speaks the bitcoind JSON-RPC interface over the go-ethereum RPC
// transport. bitcoind 28 and later answer JSON-RPC 2.0 requests.
type Client struct {
	rpcClient *rpc.Client
}

// NewClient dials the node. User and password enable HTTP basic auth.
func NewClient(ctx context.Context, rpcURL, user, password string) (*Client, error) {
	var opts []rpc.ClientOption
	if user != "" || password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		opts = append(opts, rpc.WithHTTPAuth(func(h http.Header) error {
			h.Set("Authorization", "Basic "+token)
			return nil
		}))
	}

	rpcClient, err := rpc.DialOptions(ctx, rpcURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{rpcClient: rpcClient}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// BlockCount returns the height of the best chain tip.
func (c *Client) BlockCount(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.rpcClient.CallContext(ctx, &height, "getblockcount"); err != nil {
		return 0, fmt.Errorf("getblockcount: %w", err)
	}
	return height, nil
}

// BlockHash returns the hash of the best-chain block at height.
func (c *Client) BlockHash(ctx context.Context, height uint64) (string, error) {
	var hash string
	if err := c.rpcClient.CallContext(ctx, &hash, "getblockhash", height); err != nil {
		return "", fmt.Errorf("getblockhash %d: %w", height, err)
	}
	return hash, nil
}

type blockResult struct {
	Hash              string   `json:"hash"`
	Height            uint64   `json:"height"`
	PreviousBlockHash string   `json:"previousblockhash"`
	Time              uint64   `json:"time"`
	Tx                []string `json:"tx"`
}

// Block returns the best-chain block at height with its transaction ids.
func (c *Client) Block(ctx context.Context, height uint64) (model.BlockInfo, error) {
	hash, err := c.BlockHash(ctx, height)
	if err != nil {
		return model.BlockInfo{}, err
	}

	var res blockResult
	if err := c.rpcClient.CallContext(ctx, &res, "getblock", hash, 1); err != nil {
		return model.BlockInfo{}, fmt.Errorf("getblock %s: %w", hash, err)
	}

	info := model.BlockInfo{
		Height:    res.Height,
		Hash:      res.Hash,
		PrevHash:  res.PreviousBlockHash,
		Timestamp: res.Time,
		TxIDs:     make([]model.TxID, 0, len(res.Tx)),
	}
	for _, id := range res.Tx {
		info.TxIDs = append(info.TxIDs, model.TxID(id))
	}
	return info, nil
}

type scanObject struct {
	Desc string `json:"desc"`
}

type scanResult struct {
	Success  bool `json:"success"`
	Unspents []struct {
		TxID   string  `json:"txid"`
		Vout   uint32  `json:"vout"`
		Amount float64 `json:"amount"`
		Height uint64  `json:"height"`
	} `json:"unspents"`
}

// ListConfirmedUtxos scans the node UTXO set for outputs paying address.
func (c *Client) ListConfirmedUtxos(ctx context.Context, address string) ([]model.Utxo, error) {
	var res scanResult
	objects := []scanObject{{Desc: "addr(" + address + ")"}}
	if err := c.rpcClient.CallContext(ctx, &res, "scantxoutset", "start", objects); err != nil {
		return nil, fmt.Errorf("scantxoutset %s: %w", address, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("scantxoutset %s: scan did not complete", address)
	}

	utxos := make([]model.Utxo, 0, len(res.Unspents))
	for _, u := range res.Unspents {
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("utxo %s:%d amount: %w", u.TxID, u.Vout, err)
		}
		utxos = append(utxos, model.Utxo{
			Outpoint: model.Outpoint{TxID: model.TxID(u.TxID), Vout: u.Vout},
			Value:    uint64(amount),
		})
	}
	return utxos, nil
}

type feeResult struct {
	FeeRate *float64 `json:"feerate"`
	Errors  []string `json:"errors"`
}

// EstimateFeeRate returns the estimated fee rate in sat/vB for confirmation
// within targetBlocks.
func (c *Client) EstimateFeeRate(ctx context.Context, targetBlocks int) (float64, error) {
	var res feeResult
	if err := c.rpcClient.CallContext(ctx, &res, "estimatesmartfee", targetBlocks); err != nil {
		return 0, fmt.Errorf("estimatesmartfee: %w", err)
	}
	if res.FeeRate == nil {
		return 0, fmt.Errorf("%w: %v", ErrNoEstimate, res.Errors)
	}
	// feerate is BTC per 1000 vbytes.
	return *res.FeeRate * btcutil.SatoshiPerBitcoin / 1000, nil
}

// InMempool reports whether txid is waiting in the node mempool.
func (c *Client) InMempool(ctx context.Context, txid model.TxID) (bool, error) {
	var entry map[string]any
	err := c.rpcClient.CallContext(ctx, &entry, "getmempoolentry", string(txid))
	if err == nil {
		return true, nil
	}
	if code, ok := nodeErrorCode(err); ok && code == rpcNotFound {
		return false, nil
	}
	return false, fmt.Errorf("getmempoolentry %s: %w", txid, err)
}

// nodeErrorCode extracts the bitcoind error code from err. Nodes before 28
// speak JSON-RPC 1.0 and report RPC errors with an HTTP 500 status, which
// the transport surfaces as an HTTPError carrying the JSON body.
func nodeErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	var httpErr rpc.HTTPError
	if !errors.As(err, &httpErr) || len(httpErr.Body) == 0 {
		return 0, false
	}
	var body struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(httpErr.Body, &body) != nil || body.Error == nil {
		return 0, false
	}
	return body.Error.Code, true
}

// Submit broadcasts a raw transaction and returns its txid.
func (c *Client) Submit(ctx context.Context, rawTx string) (model.TxID, error) {
	var txid string
	if err := c.rpcClient.CallContext(ctx, &txid, "sendrawtransaction", rawTx); err != nil {
		return "", fmt.Errorf("sendrawtransaction: %w", err)
	}
	return model.TxID(txid), nil
}
