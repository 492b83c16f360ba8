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

// Package nonce implements per (chain, service-node account) monotonic
// blockchain-nonce assignment that prioritizes reclaiming abandoned nonces
// over requesting a fresh one from the node.
package nonce

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/store"
)

// ChainNonceReader reads the next account-level transaction counter directly
// from the chain (BlockchainClient's equivalent of eth_getTransactionCount).
type ChainNonceReader interface {
	LatestAccountNonce(ctx context.Context, chain model.ChainID) (uint64, error)
}

// Allocator assigns blockchain nonces. One instance is shared by all
// transfer workers; correctness across concurrent allocators comes from
// TransferStore.WithTx running each allocation as a single SERIALIZABLE
// database transaction, backed by the deferrable unique constraint on
// (source_chain, blockchain_nonce, status) that store.Migrate installs - a
// conflicting allocation from another process fails at commit and the
// scheduler retries the execute task.
type Allocator struct {
	transfers *store.TransferStore
	chains    ChainNonceReader

	// mu serializes allocation attempts within the process; the database
	// transaction provides correctness across worker processes.
	mu sync.Mutex
}

func New(transfers *store.TransferStore, chains ChainNonceReader) *Allocator {
	return &Allocator{transfers: transfers, chains: chains}
}

// Allocate assigns a blockchain nonce to the transfer identified by
// internalID on chain:
//
//  1. F = transfers on chain with nonce IS NOT NULL AND status IN
//     (FAILED, ACCEPTED).
//  2. If F is empty, assign max(nonce)+1 if it exceeds the latest chain
//     nonce, else assign the latest chain nonce.
//  3. If F is non-empty, steal the smallest nonce in F and NULL it out on
//     its previous holder.
//  4. Mark the current transfer ACCEPTED_NEW_NONCE_ASSIGNED; the previous
//     holder keeps FAILED if it was FAILED, else reverts to ACCEPTED.
func (a *Allocator) Allocate(ctx context.Context, chain model.ChainID, internalID uuid.UUID) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var assigned uint64
	err := a.transfers.WithTx(ctx, func(tx *gorm.DB) error {
		abandoned, err := a.transfers.AbandonedNonceHolders(ctx, tx, chain)
		if err != nil {
			return err
		}

		if len(abandoned) == 0 {
			maxNonce, err := a.transfers.MaxNonce(ctx, tx, chain)
			if err != nil {
				return err
			}
			latest, err := a.chains.LatestAccountNonce(ctx, chain)
			if err != nil {
				return err
			}
			if maxNonce >= 0 && uint64(maxNonce)+1 > latest {
				assigned = uint64(maxNonce) + 1
			} else {
				assigned = latest
			}
			return a.transfers.AssignNonce(ctx, tx, internalID, assigned)
		}

		// Deterministic min-pick over a deterministic filter: idempotent
		// under retry.
		victim := abandoned[0]
		assigned = *victim.BlockchainNonce
		if err := a.transfers.ClearNonceKeepStatus(ctx, tx, victim); err != nil {
			return err
		}
		return a.transfers.AssignNonce(ctx, tx, internalID, assigned)
	})
	if err != nil {
		return 0, err
	}
	log.L(ctx).Debugf("allocated blockchain nonce %d on chain %d to transfer %s", assigned, chain, internalID)
	return assigned, nil
}

// Reset clears the transfer's stored nonce so the next execute cycle
// reallocates - invoked on nonce-too-low and underpriced submission
// outcomes.
func (a *Allocator) Reset(ctx context.Context, internalID uuid.UUID) error {
	return a.transfers.ResetNonce(ctx, internalID)
}
