/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package evm is the shared EVM implementation of the blockchain client
// interface, parameterized per chain by ABI + address configuration:
// JSON-RPC transport with fallback providers, hub contract calls, raw
// legacy-tx signing, and event-log decoding via go-ethereum's accounts/abi
// and crypto packages.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
)

// Signer abstracts the service node's chain-signing key; internal/signer
// loads the key material.
type Signer interface {
	Address() common.Address
	PrivateKey() (*ecdsa.PrivateKey, error)
}

// Client is a chain-family-agnostic BlockchainClient for any EVM chain,
// parameterized by Config + the embedded ABIs of abi.go.
type Client struct {
	conf      Config
	transport *rpcTransport
	signer    Signer
}

var _ blockchain.Client = (*Client)(nil)

func New(conf Config, signer Signer) *Client {
	providers := append([]string{conf.Provider}, conf.FallbackProviders...)
	return &Client{
		conf:      conf,
		transport: newRPCTransport(providers, conf.ProviderTimeout),
		signer:    signer,
	}
}

func (c *Client) Chain() model.ChainID { return model.ChainID(c.conf.ChainID) }

func (c *Client) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (c *Client) IsValidRecipientAddress(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	return common.HexToAddress(address) != (common.Address{})
}

func (c *Client) LatestAccountNonce(ctx context.Context, _ model.ChainID) (uint64, error) {
	var result string
	err := c.transport.Call(ctx, "eth_getTransactionCount", []any{c.signer.Address().Hex(), "pending"}, &result)
	if err != nil {
		return 0, err
	}
	n, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("unparseable nonce %q", result)
	}
	return n.Uint64(), nil
}

func (c *Client) blockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.transport.Call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	n, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("unparseable block number %q", result)
	}
	return n.Uint64(), nil
}

// addressFor maps a contract family to its configured on-chain address.
func (c *Client) addressFor(family ContractFamily) common.Address {
	if family == FamilyToken {
		return c.conf.PanToken
	}
	return c.conf.Hub
}

// hubCall performs a read-only eth_call against the hub contract.
func (c *Client) hubCall(ctx context.Context, method string, args ...any) ([]byte, error) {
	data, err := hubABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	return c.ethCall(ctx, c.addressFor(FamilyHub), data)
}

func (c *Client) ethCall(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callObj := map[string]any{
		"to":   to.Hex(),
		"data": "0x" + common.Bytes2Hex(data),
	}
	var result string
	if err := c.transport.Call(ctx, "eth_call", []any{callObj, "latest"}, &result); err != nil {
		return nil, asRevertError(err)
	}
	return common.FromHex(result), nil
}

// asRevertError classifies a JSON-RPC revert message into the typed errors
// TransferEngine expects.
func asRevertError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient balance of sender"):
		return blockchain.NewInsufficientBalanceError(err)
	case strings.Contains(msg, "invalid signature"):
		return blockchain.NewInvalidSignatureError(err)
	case strings.Contains(msg, "nonce too low"):
		return blockchain.NewNonceTooLowError(err)
	case strings.Contains(msg, "underpriced"):
		return blockchain.NewUnderpricedError(err)
	default:
		return err
	}
}

func (c *Client) IsNodeRegistered(ctx context.Context) (bool, error) {
	out, err := c.hubCall(ctx, "isServiceNodeRegistered", c.signer.Address())
	if err != nil {
		return false, err
	}
	vals, err := hubABI.Methods["isServiceNodeRegistered"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	return vals[0].(bool), nil
}

func (c *Client) ReadNodeURL(ctx context.Context) (string, error) {
	out, err := c.hubCall(ctx, "getServiceNodeUrl", c.signer.Address())
	if err != nil {
		return "", err
	}
	vals, err := hubABI.Methods["getServiceNodeUrl"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return "", err
	}
	return vals[0].(string), nil
}

func (c *Client) IsUnbonding(ctx context.Context) (bool, error) {
	out, err := c.hubCall(ctx, "isServiceNodeInTheUnbondingPeriod", c.signer.Address())
	if err != nil {
		return false, err
	}
	vals, err := hubABI.Methods["isServiceNodeInTheUnbondingPeriod"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	return vals[0].(bool), nil
}

func (c *Client) GetValidatorFeeFactor(ctx context.Context) (*big.Int, error) {
	out, err := c.hubCall(ctx, "getValidatorFeeFactor")
	if err != nil {
		return nil, err
	}
	vals, err := hubABI.Methods["getValidatorFeeFactor"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) MinimumServiceNodeDeposit(ctx context.Context) (*big.Int, error) {
	out, err := c.hubCall(ctx, "getMinimumServiceNodeDeposit")
	if err != nil {
		return nil, err
	}
	vals, err := hubABI.Methods["getMinimumServiceNodeDeposit"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) OwnTokenBalance(ctx context.Context) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", c.signer.Address())
	if err != nil {
		return nil, err
	}
	out, err := c.ethCall(ctx, c.addressFor(FamilyToken), data)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Methods["balanceOf"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

func (c *Client) RegisterNode(ctx context.Context, url string, deposit *big.Int, withdrawalAddress common.Address) error {
	nonce, err := c.LatestAccountNonce(ctx, c.Chain())
	if err != nil {
		return err
	}
	if deposit != nil && deposit.Sign() > 0 {
		approveData, err := erc20ABI.Pack("approve", c.conf.Hub, deposit)
		if err != nil {
			return err
		}
		if _, err := c.sendAndWait(ctx, c.addressFor(FamilyToken), approveData, nonce, nil); err != nil {
			return err
		}
		nonce++
	}
	data, err := hubABI.Pack("registerServiceNode", url, deposit, withdrawalAddress)
	if err != nil {
		return err
	}
	_, err = c.sendAndWait(ctx, c.addressFor(FamilyHub), data, nonce, nil)
	return err
}

func (c *Client) UnregisterNode(ctx context.Context) error {
	return c.simpleHubCall(ctx, "unregisterServiceNode")
}

func (c *Client) CancelUnregistration(ctx context.Context) error {
	data, err := hubABI.Pack("cancelServiceNodeUnregistration", c.signer.Address())
	if err != nil {
		return err
	}
	nonce, err := c.LatestAccountNonce(ctx, c.Chain())
	if err != nil {
		return err
	}
	_, err = c.sendAndWait(ctx, c.conf.Hub, data, nonce, nil)
	return err
}

func (c *Client) UpdateNodeURL(ctx context.Context, url string) error {
	data, err := hubABI.Pack("updateServiceNodeUrl", url)
	if err != nil {
		return err
	}
	nonce, err := c.LatestAccountNonce(ctx, c.Chain())
	if err != nil {
		return err
	}
	_, err = c.sendAndWait(ctx, c.conf.Hub, data, nonce, nil)
	return err
}

func (c *Client) simpleHubCall(ctx context.Context, method string) error {
	data, err := hubABI.Pack(method)
	if err != nil {
		return err
	}
	nonce, err := c.LatestAccountNonce(ctx, c.Chain())
	if err != nil {
		return err
	}
	_, err = c.sendAndWait(ctx, c.conf.Hub, data, nonce, nil)
	return err
}

// signAndSend builds, signs (secp256k1, via the node's registered key) and
// broadcasts a legacy transaction, returning its hash. Gas price is read
// with the caller-supplied override or defaults to conf.MinAdaptableFeePerGas.
func (c *Client) signAndSend(ctx context.Context, to common.Address, data []byte, nonce uint64, gasPrice *big.Int) (common.Hash, error) {
	if gasPrice == nil {
		gasPrice = c.conf.MinAdaptableFeePerGas
		if gasPrice == nil {
			gasPrice = big.NewInt(0)
		}
	}
	privKey, err := c.signer.PrivateKey()
	if err != nil {
		return common.Hash{}, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      3_000_000,
		GasPrice: gasPrice,
		Data:     data,
	})
	signer := types.NewEIP155Signer(big.NewInt(int64(c.conf.ChainID)))
	signedTx, err := types.SignTx(tx, signer, privKey)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	var txHash string
	if err := c.transport.Call(ctx, "eth_sendRawTransaction", []any{"0x" + common.Bytes2Hex(raw)}, &txHash); err != nil {
		return common.Hash{}, asRevertError(err)
	}
	log.L(ctx).Debugf("submitted tx %s to chain %d (nonce %d)", txHash, c.conf.ChainID, nonce)
	return common.HexToHash(txHash), nil
}

// sendAndWait is used by the registration path. It signs and broadcasts the
// transaction via signAndSend and returns its hash; it does not wait for the
// transaction to be mined and does not check its receipt.
func (c *Client) sendAndWait(ctx context.Context, to common.Address, data []byte, nonce uint64, gasPrice *big.Int) (common.Hash, error) {
	return c.signAndSend(ctx, to, data, nonce, gasPrice)
}
