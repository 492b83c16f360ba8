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

// Package solana is a placeholder chain-family variant. IsNodeRegistered
// reports false, the address validators reject every address, and every
// other chain operation returns an error so a misconfiguration that
// actually routes traffic here fails loudly instead of silently no-opping.
package solana

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
)

func errNotImplemented(ctx context.Context) error {
	return i18n.NewError(ctx, msgs.MsgSolanaNotImplemented)
}

type Client struct {
	chain model.ChainID
}

var _ blockchain.Client = (*Client)(nil)

func New(chain model.ChainID) *Client {
	return &Client{chain: chain}
}

func (c *Client) Chain() model.ChainID { return c.chain }

func (c *Client) IsNodeRegistered(ctx context.Context) (bool, error) { return false, nil }

func (c *Client) IsValidAddress(address string) bool          { return false }
func (c *Client) IsValidRecipientAddress(address string) bool { return false }

func (c *Client) ReadNodeURL(ctx context.Context) (string, error) { return "", errNotImplemented(ctx) }
func (c *Client) IsUnbonding(ctx context.Context) (bool, error)   { return false, errNotImplemented(ctx) }

func (c *Client) RegisterNode(ctx context.Context, url string, deposit *big.Int, withdrawalAddress common.Address) error {
	return errNotImplemented(ctx)
}
func (c *Client) UnregisterNode(ctx context.Context) error        { return errNotImplemented(ctx) }
func (c *Client) CancelUnregistration(ctx context.Context) error  { return errNotImplemented(ctx) }
func (c *Client) UpdateNodeURL(ctx context.Context, url string) error { return errNotImplemented(ctx) }

func (c *Client) GetValidatorFeeFactor(ctx context.Context) (*big.Int, error) {
	return nil, errNotImplemented(ctx)
}

func (c *Client) MinimumServiceNodeDeposit(ctx context.Context) (*big.Int, error) {
	return nil, errNotImplemented(ctx)
}

func (c *Client) LatestAccountNonce(ctx context.Context, chain model.ChainID) (uint64, error) {
	return 0, errNotImplemented(ctx)
}

func (c *Client) OwnTokenBalance(ctx context.Context) (*big.Int, error) { return nil, errNotImplemented(ctx) }

func (c *Client) StartTransferSubmission(ctx context.Context, req *blockchain.TransferSubmission) (string, error) {
	return "", errNotImplemented(ctx)
}

func (c *Client) StartTransferFromSubmission(ctx context.Context, req *blockchain.TransferSubmission) (string, error) {
	return "", errNotImplemented(ctx)
}

func (c *Client) GetTransferSubmissionStatus(ctx context.Context, handle string, destChainSameAsSource bool) (*blockchain.SubmissionStatus, error) {
	return nil, errNotImplemented(ctx)
}
