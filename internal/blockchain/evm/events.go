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
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pantos-io/servicenode/internal/blockchain"
)

type receiptStatus int

const (
	receiptPending receiptStatus = iota
	receiptSucceeded
	receiptReverted
)

type rpcLog struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

type rpcReceipt struct {
	Status string    `json:"status"`
	Logs   []rpcLog  `json:"logs"`
}

// getReceipt returns the raw JSON receipt (for later event parsing) plus a
// coarse status, or receiptPending if the transaction has not yet been mined
// for at least conf.Confirmations blocks.
func (c *Client) getReceipt(ctx context.Context, txHash string) ([]byte, receiptStatus, error) {
	var raw json.RawMessage
	if err := c.transport.Call(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return nil, receiptPending, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, receiptPending, nil
	}
	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, receiptPending, err
	}
	if c.conf.Confirmations > 0 {
		block, err := c.blockNumber(ctx)
		if err != nil {
			return nil, receiptPending, err
		}
		receiptBlock, err := c.receiptBlockNumber(ctx, txHash)
		if err == nil && block < receiptBlock+c.conf.Confirmations {
			return nil, receiptPending, nil
		}
	}
	if r.Status == "0x0" {
		return raw, receiptReverted, nil
	}
	return raw, receiptSucceeded, nil
}

func (c *Client) receiptBlockNumber(ctx context.Context, txHash string) (uint64, error) {
	var result struct {
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.transport.Call(ctx, "eth_getTransactionReceipt", []any{txHash}, &result); err != nil {
		return 0, err
	}
	n, ok := new(big.Int).SetString(trimHexPrefix(result.BlockNumber), 16)
	if !ok {
		return 0, fmt.Errorf("unparseable block number %q", result.BlockNumber)
	}
	return n.Uint64(), nil
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// parseTransferID extracts the Hub-assigned on-chain transfer id by scanning
// the receipt's logs for TransferSucceeded (same-chain destination) or
// TransferFromSucceeded (cross-chain), discarding any log whose topic does
// not match the expected event.
func (c *Client) parseTransferID(receipt []byte, destChainSameAsSource bool) (*big.Int, error) {
	var r rpcReceipt
	if err := json.Unmarshal(receipt, &r); err != nil {
		return nil, err
	}
	eventName := "TransferFromSucceeded"
	if destChainSameAsSource {
		eventName = "TransferSucceeded"
	}
	event, ok := hubABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("unknown event %s in hub ABI", eventName)
	}
	for _, l := range r.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != event.ID.Hex() {
			continue
		}
		data := common.FromHex(l.Data)
		vals, err := event.Inputs.Unpack(data)
		if err != nil || len(vals) == 0 {
			continue
		}
		id, ok := vals[0].(*big.Int)
		if !ok {
			continue
		}
		return id, nil
	}
	return nil, blockchain.NewUnresolvableError(fmt.Errorf("%s not found in receipt logs", eventName))
}
