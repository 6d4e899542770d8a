// Package chain is the chain-RPC client wrapped around a connected wallet
// provider. It covers account retrieval and message signing only.
package chain

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"moff.io/moff-wallet/pkg/errors"
)

// Requester is the JSON-RPC request surface of a wallet provider.
type Requester interface {
	Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

type Client struct {
	r Requester
}

func New(r Requester) *Client {
	return &Client{r: r}
}

// Accounts returns the accounts exposed by the wallet, in wallet order.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	raw, err := c.r.Request(ctx, "eth_accounts")
	if err != nil {
		return nil, err
	}
	var accounts []string
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, errors.Wrap(err, "decode eth_accounts result")
	}
	for _, a := range accounts {
		if !common.IsHexAddress(a) {
			return nil, errors.Errorf("malformed account %q in eth_accounts result", a)
		}
	}
	return accounts, nil
}

// PersonalSign asks the wallet to sign message with address. Provider errors
// are returned unchanged so callers can tell a user rejection apart.
func (c *Client) PersonalSign(ctx context.Context, message, address, password string) (string, error) {
	raw, err := c.r.Request(ctx, "personal_sign", hexutil.Encode([]byte(message)), address, password)
	if err != nil {
		return "", err
	}
	var signature string
	if err := json.Unmarshal(raw, &signature); err != nil {
		return "", errors.Wrap(err, "decode personal_sign result")
	}
	return signature, nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	raw, err := c.r.Request(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	var id hexutil.Big
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, errors.Wrap(err, "decode eth_chainId result")
	}
	return id.ToInt(), nil
}

type rpcRequester struct {
	client *rpc.Client
}

// NewRPCRequester lets a go-ethereum rpc client serve as the request side of
// a provider, e.g. a node or clef signer reached over http, ws or ipc.
func NewRPCRequester(client *rpc.Client) Requester {
	return &rpcRequester{client: client}
}

func (r *rpcRequester) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	if err := r.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, err
	}
	return result, nil
}
