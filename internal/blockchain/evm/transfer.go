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

package evm

import (
	"context"
	"math/big"

	"github.com/pantos-io/servicenode/internal/blockchain"
)

// StartTransferSubmission is the same-chain path: preflight
// via verifyTransfer (read-only), then submit hub transfer at the
// caller-assigned blockchain nonce (allocation itself is the caller's
// responsibility via internal/nonce - see DESIGN.md "nonce allocation
// placement").
func (c *Client) StartTransferSubmission(ctx context.Context, req *blockchain.TransferSubmission) (string, error) {
	senderNonce := new(big.Int).SetUint64(req.SenderNonce)
	_, err := c.hubCall(ctx, "verifyTransfer",
		req.Sender, req.Recipient, req.SourceToken, req.Amount, req.Fee, senderNonce, req.Signature)
	if err != nil {
		return "", err
	}
	data, err := hubABI.Pack("transfer",
		req.Sender, req.Recipient, req.SourceToken, req.Amount, req.Fee, senderNonce, req.Signature)
	if err != nil {
		return "", err
	}
	return c.startSubmission(ctx, c.addressFor(FamilyHub), data, req.BlockchainNonce, true)
}

// StartTransferFromSubmission is the cross-chain path: preflight via
// verifyTransferFrom, then hub transferFrom with the destination-chain
// arguments.
func (c *Client) StartTransferFromSubmission(ctx context.Context, req *blockchain.TransferSubmission) (string, error) {
	destChainID := new(big.Int).SetUint64(uint64(req.DestinationChainID))
	senderNonce := new(big.Int).SetUint64(req.SenderNonce)
	recipient := req.Recipient.Hex()
	destToken := req.DestinationToken.Hex()

	_, err := c.hubCall(ctx, "verifyTransferFrom",
		destChainID, req.Sender, recipient, req.SourceToken, destToken, req.Amount, req.Fee, senderNonce, req.Signature)
	if err != nil {
		return "", err
	}
	data, err := hubABI.Pack("transferFrom",
		destChainID, req.Sender, recipient, req.SourceToken, destToken, req.Amount, req.Fee, senderNonce, req.Signature)
	if err != nil {
		return "", err
	}
	return c.startSubmission(ctx, c.addressFor(FamilyHub), data, req.BlockchainNonce, false)
}
