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

// Package transfer implements the transfer engine: the durable state
// machine spanning accept -> execute -> confirm -> terminal, persisted
// through the store and driven by scheduler tasks.
package transfer

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/pantos-io/servicenode/internal/bid"
	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/model"
)

// TransferStore is the subset of *store.TransferStore the engine needs.
// Kept as an interface (rather than the concrete type internal/nonce binds
// to) so engine tests can run against an in-memory fake instead of a real
// database, the way internal/bid decouples from store.BidStore via its own
// BidStore interface.
type TransferStore interface {
	Create(ctx context.Context, t *model.Transfer) error
	Get(ctx context.Context, internalID uuid.UUID) (*model.Transfer, error)
	FindByTaskID(ctx context.Context, taskID uuid.UUID) (*model.Transfer, error)
	SetTaskID(ctx context.Context, internalID uuid.UUID, taskID uuid.UUID) error
	MarkFailed(ctx context.Context, internalID uuid.UUID) error
	MarkReverted(ctx context.Context, internalID uuid.UUID, transactionID string) error
	MarkSubmitted(ctx context.Context, internalID uuid.UUID, internalTransactionID string) error
	MarkConfirmed(ctx context.Context, internalID uuid.UUID, transactionID string, onChainTransferID *big.Int) error
	ResetNonce(ctx context.Context, internalID uuid.UUID) error
	RevertToAccepted(ctx context.Context, internalID uuid.UUID) error
}

// ContractRegistry is the subset of *store.ContractRegistry the engine
// needs to resolve the hub/forwarder/token refs recorded on a Transfer.
type ContractRegistry interface {
	GetOrCreate(ctx context.Context, kind model.ContractKind, chain model.ChainID, address string) (*model.ContractRef, error)
}

// NonceAllocator is satisfied by *nonce.Allocator.
type NonceAllocator interface {
	Allocate(ctx context.Context, chain model.ChainID, internalID uuid.UUID) (uint64, error)
	Reset(ctx context.Context, internalID uuid.UUID) error
}

// BidVerifier is satisfied by *bid.Verifier.
type BidVerifier interface {
	Verify(ctx context.Context, b *model.Bid, sig []byte, req bid.Request, now time.Time) error
}

// Scheduler is the narrow slice of internal/scheduler.Scheduler the engine
// needs to enqueue follow-up work. It is intentionally an interface defined
// here rather than a dependency on the scheduler package: the scheduler, in
// turn, is wired against Engine.Execute/Engine.Confirm as task handlers at
// startup (cmd/servicenode), so a direct import either direction would
// create a cycle.
type Scheduler interface {
	EnqueueExecuteTransfer(ctx context.Context, internalID uuid.UUID, delay time.Duration) (uuid.UUID, error)
	EnqueueConfirmTransfer(ctx context.Context, internalID uuid.UUID, delay time.Duration) error
}

// Engine owns the transfer state machine. All state transitions for a
// transfer flow through it.
type Engine struct {
	transfers TransferStore
	contracts ContractRegistry
	chains    map[model.ChainID]model.ChainInfo
	clients   map[model.ChainID]blockchain.Client
	nonces    NonceAllocator
	verifier  BidVerifier
	scheduler Scheduler

	// confirmInterval is tasks.confirm_transfer.interval: the
	// delay before the first confirm poll after a successful submission.
	confirmInterval time.Duration
}

func NewEngine(
	transfers TransferStore,
	contracts ContractRegistry,
	chains map[model.ChainID]model.ChainInfo,
	clients map[model.ChainID]blockchain.Client,
	nonces NonceAllocator,
	verifier BidVerifier,
	scheduler Scheduler,
	confirmInterval time.Duration,
) *Engine {
	return &Engine{
		transfers:       transfers,
		contracts:       contracts,
		chains:          chains,
		clients:         clients,
		nonces:          nonces,
		verifier:        verifier,
		scheduler:       scheduler,
		confirmInterval: confirmInterval,
	}
}

// Find returns the transfer associated with a scheduler-issued task id.
// Callers apply the public status projection
// via model.TransferStatus.Public() when rendering it externally.
func (e *Engine) Find(ctx context.Context, taskID uuid.UUID) (*model.Transfer, error) {
	return e.transfers.FindByTaskID(ctx, taskID)
}
