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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantos-io/servicenode/internal/blockchain"
)

// pendingNode is a fakeNode whose preflight always passes and whose
// transactions are never mined until a receipt is installed.
func pendingNode(t *testing.T) *fakeNode {
	t.Helper()
	node := newFakeNode(t)
	node.handle("eth_call", func(_ []json.RawMessage) (any, error) {
		return "0x", nil
	})
	node.handle("eth_getTransactionReceipt", func(_ []json.RawMessage) (any, error) {
		return nil, nil
	})
	return node
}

func succeededReceipt(t *testing.T, eventName string, transferID *big.Int, blockNumber uint64) map[string]any {
	t.Helper()
	ev := hubABI.Events[eventName]
	var data []byte
	var err error
	if eventName == "TransferFromSucceeded" {
		data, err = ev.Inputs.Pack(transferID,
			common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"),
			"0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	} else {
		data, err = ev.Inputs.Pack(transferID,
			common.HexToAddress("0xaAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa"),
			common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"))
	}
	require.NoError(t, err)
	return map[string]any{
		"status":      "0x1",
		"blockNumber": "0x" + new(big.Int).SetUint64(blockNumber).Text(16),
		"logs": []map[string]any{{
			"topics": []string{ev.ID.Hex()},
			"data":   "0x" + common.Bytes2Hex(data),
		}},
	}
}

func TestScaleFee(t *testing.T) {
	assert.Equal(t, int64(1_101_000_000), scaleFee(big.NewInt(1_000_000_000), 1.101).Int64())
	assert.Equal(t, int64(2), scaleFee(big.NewInt(2), 1.1).Int64())
	// Factors below the floor are clamped, never decreasing the fee.
	assert.Equal(t, int64(100), scaleFee(big.NewInt(100), 0.5).Int64())
}

func TestAdaptiveResubmissionAfterBlocksElapse(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node)

	handle, err := c.StartTransferSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	txs := node.sentTxs()
	require.Len(t, txs, 1)
	assert.Equal(t, int64(1_000_000_000), txs[0].GasPrice().Int64())

	// Nine blocks later: still pending, no resubmission yet.
	node.setBlock(109)
	status, err := c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	assert.False(t, status.Complete)
	assert.Len(t, node.sentTxs(), 1)

	// Ten blocks without inclusion: resubmit at the same nonce with the fee
	// scaled by the increase factor.
	node.setBlock(110)
	status, err = c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	assert.False(t, status.Complete)

	txs = node.sentTxs()
	require.Len(t, txs, 2)
	assert.Equal(t, int64(1_101_000_000), txs[1].GasPrice().Int64())
	assert.Equal(t, txs[0].Nonce(), txs[1].Nonce())
}

func TestAdaptiveResubmissionStopsAtFeeCap(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node, func(conf *Config) {
		conf.MaxTotalFeePerGas = big.NewInt(1_200_000_000)
	})

	handle, err := c.StartTransferSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	// First resubmission fits under the cap.
	node.setBlock(110)
	_, err = c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	require.Len(t, node.sentTxs(), 2)

	// The next projected fee exceeds the cap; no further transaction goes out.
	node.setBlock(120)
	_, err = c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.Error(t, err)
	assert.True(t, blockchain.IsKind(err, blockchain.KindMaxTotalFeeExceeded))
	assert.Len(t, node.sentTxs(), 2)
}

func TestAdaptiveResubmissionUncappedWhenMaxAbsent(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node, func(conf *Config) {
		conf.MaxTotalFeePerGas = big.NewInt(0)
	})

	handle, err := c.StartTransferSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		node.setBlock(100 + i*10)
		_, err := c.GetTransferSubmissionStatus(context.Background(), handle, true)
		require.NoError(t, err)
	}
	assert.Len(t, node.sentTxs(), 6)
}

func TestSubmissionConfirmedExtractsTransferID(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node)

	handle, err := c.StartTransferSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	node.handle("eth_getTransactionReceipt", func(_ []json.RawMessage) (any, error) {
		return succeededReceipt(t, "TransferSucceeded", big.NewInt(777), 101), nil
	})
	status, err := c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.False(t, status.Reverted)
	assert.NotEmpty(t, status.TransactionHash)
	require.NotNil(t, status.OnChainTransferID)
	assert.Equal(t, int64(777), status.OnChainTransferID.Int64())
}

func TestSubmissionCrossChainExtractsSourceTransferID(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node)

	handle, err := c.StartTransferFromSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	node.handle("eth_getTransactionReceipt", func(_ []json.RawMessage) (any, error) {
		return succeededReceipt(t, "TransferFromSucceeded", big.NewInt(4242), 101), nil
	})
	status, err := c.GetTransferSubmissionStatus(context.Background(), handle, false)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	require.NotNil(t, status.OnChainTransferID)
	assert.Equal(t, int64(4242), status.OnChainTransferID.Int64())
}

func TestSubmissionReverted(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node)

	handle, err := c.StartTransferSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	node.handle("eth_getTransactionReceipt", func(_ []json.RawMessage) (any, error) {
		return map[string]any{"status": "0x0", "blockNumber": "0x65", "logs": []any{}}, nil
	})
	status, err := c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.True(t, status.Reverted)
	assert.Nil(t, status.OnChainTransferID)
}

func TestSubmissionPendingUntilConfirmationDepth(t *testing.T) {
	node := pendingNode(t)
	node.setBlock(100)
	c := newTestClient(t, node, func(conf *Config) {
		conf.Confirmations = 3
	})

	handle, err := c.StartTransferSubmission(context.Background(), testSubmission())
	require.NoError(t, err)

	// Mined at block 101, but only one block deep: still pending.
	node.handle("eth_getTransactionReceipt", func(_ []json.RawMessage) (any, error) {
		return succeededReceipt(t, "TransferSucceeded", big.NewInt(9), 101), nil
	})
	node.setBlock(102)
	status, err := c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	assert.False(t, status.Complete)

	node.setBlock(104)
	status, err = c.GetTransferSubmissionStatus(context.Background(), handle, true)
	require.NoError(t, err)
	assert.True(t, status.Complete)
}

func TestUnknownSubmissionHandleIsUnresolvable(t *testing.T) {
	c := newTestClient(t, newFakeNode(t))

	_, err := c.GetTransferSubmissionStatus(context.Background(), "1:0xdeadbeef:0", true)
	require.Error(t, err)
	assert.True(t, blockchain.IsKind(err, blockchain.KindUnresolvable))
}
