// Package node wraps the Bitcoin full-node RPC collaborator spec.md §6
// treats as an external dependency: createwallet, importdescriptors,
// listunspent, walletcreatefundedpsbt, finalizepsbt, sendrawtransaction,
// estimatesmartfee, address info and blockchain info. It is built on
// rpcclient.Client the same way the reference pack wires a Bitcoin node
// (see other_examples' RpcWalletController), adapted from a hot-wallet
// controller into a thin, read-mostly collaborator for an air-gapped
// coordinator that never holds private key material itself.
package node

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/firma-toolchain/firma/internal/ferrors"
)

// Client is a thin wrapper around rpcclient.Client scoped to the RPCs this
// toolchain's online role needs.
type Client struct {
	rpc *rpcclient.Client
}

// Config describes how to reach and authenticate against the node.
type Config struct {
	Host       string
	CookieFile string
	DisableTLS bool
}

// Connect builds a Client authenticated via cookie file, per spec.md §6.
func Connect(cfg Config) (*Client, error) {
	user, pass, err := readCookie(cfg.CookieFile)
	if err != nil {
		return nil, err
	}

	connCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 user,
		Pass:                 pass,
		DisableTLS:           cfg.DisableTLS,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		HTTPPostMode:         true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, &ferrors.NodeRPC{Reason: "connecting to node", Cause: err}
	}
	return &Client{rpc: client}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Shutdown()
}

func readCookie(path string) (user, pass string, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return "", "", &ferrors.NodeRPC{Reason: "reading cookie file", Cause: readErr}
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
	if len(parts) != 2 {
		return "", "", &ferrors.NodeRPC{Reason: "cookie file is not in user:password form"}
	}
	return parts[0], parts[1], nil
}

// raw is the generic RPC entry point for calls outside rpcclient's typed
// API (the descriptor-wallet RPCs are Bitcoin Core specific and have no
// typed wrapper in this module's RPC client).
func (c *Client) raw(method string, params ...interface{}) (json.RawMessage, error) {
	marshaled := make([]json.RawMessage, len(params))
	for i, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, &ferrors.NodeRPC{Reason: "marshaling " + method + " params", Cause: err}
		}
		marshaled[i] = data
	}
	result, err := c.rpc.RawRequest(method, marshaled)
	if err != nil {
		return nil, &ferrors.NodeRPC{Reason: method, Cause: err}
	}
	return result, nil
}

// CreateWallet creates a watch-only, descriptor-enabled wallet named name.
func (c *Client) CreateWallet(name string) error {
	_, err := c.raw("createwallet", name, true /* disable_private_keys */, true /* blank */, "" /* passphrase */, false, true /* descriptors */)
	return err
}

// ImportDescriptor describes one entry of an importdescriptors call.
type ImportDescriptor struct {
	Descriptor string `json:"desc"`
	Timestamp  string `json:"timestamp"` // "now" for a zero rescan window
	Active     bool   `json:"active"`
	Internal   bool   `json:"internal"`
}

// ImportDescriptors atomically registers the external and change
// descriptors against the wallet named walletName, watch-only with a
// zero rescan window, per spec.md §4.4.
func (c *Client) ImportDescriptors(walletName string, external, change string) error {
	// walletName is accepted for the caller's documentation value only:
	// Core routes wallet-scoped RPCs through the connection's URL path
	// (.../wallet/<name>), so this toolchain keeps one Client per wallet
	// rather than threading the name through every call.
	_ = walletName
	requests := []ImportDescriptor{
		{Descriptor: external, Timestamp: "now", Active: true, Internal: false},
		{Descriptor: change, Timestamp: "now", Active: true, Internal: true},
	}
	_, err := c.raw("importdescriptors", requests)
	return err
}

// UTXO mirrors the fields of listunspent this toolchain's coin selection
// needs.
type UTXO struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
}

// GetBalance returns the descriptor wallet's confirmed balance in BTC.
func (c *Client) GetBalance() (float64, error) {
	raw, err := c.raw("getbalance")
	if err != nil {
		return 0, err
	}
	var balance float64
	if err := json.Unmarshal(raw, &balance); err != nil {
		return 0, &ferrors.NodeRPC{Reason: "decoding getbalance response", Cause: err}
	}
	return balance, nil
}

// ListUnspent returns the wallet's visible UTXOs with at least minConf
// confirmations.
func (c *Client) ListUnspent(minConf int) ([]UTXO, error) {
	raw, err := c.raw("listunspent", minConf)
	if err != nil {
		return nil, err
	}
	var utxos []UTXO
	if err := json.Unmarshal(raw, &utxos); err != nil {
		return nil, &ferrors.NodeRPC{Reason: "decoding listunspent response", Cause: err}
	}
	return utxos, nil
}

// FundedPSBT is the result of walletcreatefundedpsbt.
type FundedPSBT struct {
	PSBT     string  `json:"psbt"`
	Fee      float64 `json:"fee"`
	ChangePos int    `json:"changepos"`
}

// FundedPSBTOutput is one recipient of a walletcreatefundedpsbt call.
type FundedPSBTOutput map[string]float64

// WalletCreateFundedPSBT asks the node to fund a transaction paying
// outputs, pinning the change output to changeAddress, at the given fee
// rate (sat/vB); a feeRate of zero lets the node pick its own estimate.
func (c *Client) WalletCreateFundedPSBT(inputs []btcjson.TransactionInput, outputs []FundedPSBTOutput, changeAddress string, feeRate float64) (*FundedPSBT, error) {
	options := map[string]interface{}{
		"changeAddress": changeAddress,
	}
	if feeRate > 0 {
		options["fee_rate"] = feeRate
	}
	raw, err := c.raw("walletcreatefundedpsbt", inputs, outputs, 0, options)
	if err != nil {
		return nil, err
	}
	var result FundedPSBT
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ferrors.NodeRPC{Reason: "decoding walletcreatefundedpsbt response", Cause: err}
	}
	return &result, nil
}

// FinalizePSBTResult is the result of finalizepsbt.
type FinalizePSBTResult struct {
	PSBT     string `json:"psbt"`
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// FinalizePSBT finalizes psbtBase64 into a broadcastable transaction if
// complete.
func (c *Client) FinalizePSBT(psbtBase64 string) (*FinalizePSBTResult, error) {
	raw, err := c.raw("finalizepsbt", psbtBase64)
	if err != nil {
		return nil, err
	}
	var result FinalizePSBTResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ferrors.NodeRPC{Reason: "decoding finalizepsbt response", Cause: err}
	}
	return &result, nil
}

// SendRawTransaction broadcasts a finalized, hex-encoded transaction and
// returns its txid.
func (c *Client) SendRawTransaction(txHex string) (string, error) {
	raw, err := c.raw("sendrawtransaction", txHex)
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(raw, &txid); err != nil {
		return "", &ferrors.NodeRPC{Reason: "decoding sendrawtransaction response", Cause: err}
	}
	return txid, nil
}

// EstimateSmartFee returns the node's fee-rate estimate, in BTC/kvB, for
// confirmation within confTarget blocks.
func (c *Client) EstimateSmartFee(confTarget int) (float64, error) {
	raw, err := c.raw("estimatesmartfee", confTarget)
	if err != nil {
		return 0, err
	}
	var result struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, &ferrors.NodeRPC{Reason: "decoding estimatesmartfee response", Cause: err}
	}
	if len(result.Errors) > 0 {
		return 0, &ferrors.NodeRPC{Reason: strings.Join(result.Errors, "; ")}
	}
	return result.FeeRate, nil
}

// AddressInfo is the subset of getaddressinfo this toolchain consults.
type AddressInfo struct {
	Address      string `json:"address"`
	ScriptPubKey string `json:"scriptPubKey"`
	IsMine       bool   `json:"ismine"`
	IsWatchOnly  bool   `json:"iswatchonly"`
}

// GetAddressInfo reports the node's view of address.
func (c *Client) GetAddressInfo(address string) (*AddressInfo, error) {
	raw, err := c.raw("getaddressinfo", address)
	if err != nil {
		return nil, err
	}
	var info AddressInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &ferrors.NodeRPC{Reason: "decoding getaddressinfo response", Cause: err}
	}
	return &info, nil
}

// BlockchainInfo is the subset of getblockchaininfo this toolchain consults.
type BlockchainInfo struct {
	Chain  string `json:"chain"`
	Blocks int64  `json:"blocks"`
}

// GetBlockchainInfo reports the node's current chain and height.
func (c *Client) GetBlockchainInfo() (*BlockchainInfo, error) {
	raw, err := c.raw("getblockchaininfo")
	if err != nil {
		return nil, err
	}
	var info BlockchainInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &ferrors.NodeRPC{Reason: "decoding getblockchaininfo response", Cause: err}
	}
	return &info, nil
}
