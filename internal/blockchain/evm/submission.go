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
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/log"
)

// submission tracks one in-flight transfer transaction for the adaptive-fee
// resubmission loop; the client supplies parameters and receives an opaque
// handle.
type submission struct {
	mu sync.Mutex

	client            *Client
	to                common.Address
	data              []byte
	nonce             uint64
	destSameAsSource  bool

	currentFeePerGas  *big.Int
	submittedAtBlock  uint64
	txHash            string

	complete bool
	reverted bool
	receipt  []byte
}

// handles maps opaque submission handles (returned to TransferEngine) to
// their tracked submission state. Handles are process-local: a restart of
// the process that owns them loses in-flight adaptive-fee tracking, and
// GetTransferSubmissionStatus then reports the unknown handle as an
// Unresolvable error.
var (
	handlesMu sync.Mutex
	handles   = map[string]*submission{}
)

func (c *Client) startSubmission(ctx context.Context, to common.Address, data []byte, nonce uint64, destSameAsSource bool) (string, error) {
	gasPrice := c.conf.MinAdaptableFeePerGas
	if gasPrice == nil {
		gasPrice = big.NewInt(1)
	}
	block, err := c.blockNumber(ctx)
	if err != nil {
		return "", err
	}
	hash, err := c.signAndSend(ctx, to, data, nonce, gasPrice)
	if err != nil {
		return "", err
	}
	s := &submission{
		client:           c,
		to:               to,
		data:             data,
		nonce:            nonce,
		destSameAsSource: destSameAsSource,
		currentFeePerGas: gasPrice,
		submittedAtBlock: block,
		txHash:           hash.Hex(),
	}
	handle := fmt.Sprintf("%d:%s:%d", c.conf.ChainID, hash.Hex(), nonce)
	handlesMu.Lock()
	handles[handle] = s
	handlesMu.Unlock()
	return handle, nil
}

// poll checks for inclusion, resubmitting with an increased fee once
// blocks_until_resubmission blocks have elapsed without confirmation
//.
func (s *submission) poll(ctx context.Context) (*blockchain.SubmissionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return &blockchain.SubmissionStatus{Complete: true, Reverted: s.reverted, TransactionHash: s.txHash}, nil
	}

	receipt, status, err := s.client.getReceipt(ctx, s.txHash)
	if err != nil {
		return nil, err
	}
	if status != receiptPending {
		s.complete = true
		s.reverted = status == receiptReverted
		s.receipt = receipt
		return &blockchain.SubmissionStatus{Complete: true, Reverted: s.reverted, TransactionHash: s.txHash}, nil
	}

	block, err := s.client.blockNumber(ctx)
	if err != nil {
		return nil, err
	}
	conf := s.client.conf
	if conf.BlocksUntilResubmission > 0 && block >= s.submittedAtBlock+conf.BlocksUntilResubmission {
		nextFee := scaleFee(s.currentFeePerGas, conf.AdaptableFeeIncreaseFactor)
		if conf.IsCapped() && nextFee.Cmp(conf.MaxTotalFeePerGas) > 0 {
			return nil, blockchain.NewMaxTotalFeeExceededError(fmt.Errorf("projected fee %s exceeds cap %s", nextFee, conf.MaxTotalFeePerGas))
		}
		hash, err := s.client.signAndSend(ctx, s.to, s.data, s.nonce, nextFee)
		if err != nil {
			return nil, err
		}
		log.L(ctx).Infof("resubmitted tx at nonce %d on chain %d with fee %s (was %s)", s.nonce, conf.ChainID, nextFee, s.currentFeePerGas)
		s.currentFeePerGas = nextFee
		s.submittedAtBlock = block
		s.txHash = hash.Hex()
	}
	return &blockchain.SubmissionStatus{Complete: false}, nil
}

// scaleFee multiplies fee by factor, floored at MinIncreaseFactor,
// rounding to the nearest integer.
func scaleFee(fee *big.Int, factor float64) *big.Int {
	if factor < MinIncreaseFactor {
		factor = MinIncreaseFactor
	}
	f := new(big.Float).Mul(new(big.Float).SetInt(fee), big.NewFloat(factor))
	f.Add(f, big.NewFloat(0.5))
	out, _ := f.Int(nil)
	return out
}

func (c *Client) GetTransferSubmissionStatus(ctx context.Context, handle string, destChainSameAsSource bool) (*blockchain.SubmissionStatus, error) {
	handlesMu.Lock()
	s, ok := handles[handle]
	handlesMu.Unlock()
	if !ok {
		return nil, blockchain.NewUnresolvableError(fmt.Errorf("unknown submission handle %q", handle))
	}
	status, err := s.poll(ctx)
	if err != nil {
		return nil, err
	}
	if status.Complete && !status.Reverted {
		onChainID, err := c.parseTransferID(s.receipt, destChainSameAsSource)
		if err != nil {
			return nil, err
		}
		status.OnChainTransferID = onChainID
	}
	return status, nil
}
