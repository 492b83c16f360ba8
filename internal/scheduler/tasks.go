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

package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pantos-io/servicenode/internal/model"
)

// TransferTaskPayload is the typed payload of the execute_transfer and
// confirm_transfer tasks.
type TransferTaskPayload struct {
	InternalID uuid.UUID `json:"internal_id"`
}

// BidTaskPayload is the typed payload of the calculate_bids task: one
// per-source-chain instance re-schedules itself with the delay the bid
// plugin returns.
type BidTaskPayload struct {
	SourceChain uint64 `json:"source_chain"`
}

// TransferEngine is the slice of *transfer.Engine the task handlers drive.
// Declared here, rather than importing internal/transfer, because the
// transfer engine in turn enqueues follow-up work through this scheduler -
// see the matching note on transfer.Scheduler.
type TransferEngine interface {
	Execute(ctx context.Context, internalID uuid.UUID) error
	Confirm(ctx context.Context, internalID uuid.UUID) (done bool, err error)
}

// BidTicker is satisfied by *bid.Engine.
type BidTicker interface {
	Tick(ctx context.Context, src model.ChainID) time.Duration
}

// TransferTaskConfig carries the tasks.* timing configuration.
type TransferTaskConfig struct {
	ConfirmInterval      time.Duration
	ConfirmRetryInterval time.Duration
	ConfirmMaxRetries    int
	ExecuteRetryInterval time.Duration
}

// RegisterTransferTasks binds the execute and confirm handlers. Execute
// retries are unbounded; confirm is capped at 100 attempts.
func RegisterTransferTasks(s *Scheduler, engine TransferEngine, conf TransferTaskConfig) {
	if conf.ConfirmMaxRetries <= 0 {
		conf.ConfirmMaxRetries = 100
	}

	s.Register(TaskExecuteTransfer, QueueTransfers, 0, conf.ExecuteRetryInterval,
		func(ctx context.Context, payload []byte, attempt int) (Result, error) {
			var p TransferTaskPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return Result{}, err
			}
			if err := engine.Execute(ctx, p.InternalID); err != nil {
				return Result{}, err
			}
			return Result{Done: true}, nil
		})

	s.Register(TaskConfirmTransfer, QueueTransfers, conf.ConfirmMaxRetries, conf.ConfirmRetryInterval,
		func(ctx context.Context, payload []byte, attempt int) (Result, error) {
			var p TransferTaskPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return Result{}, err
			}
			done, err := engine.Confirm(ctx, p.InternalID)
			if err != nil {
				return Result{}, err
			}
			if !done {
				return Result{Done: false, RetryIn: conf.ConfirmInterval}, nil
			}
			return Result{Done: true}, nil
		})
}

// RegisterBidTask binds the per-source-chain bid recomputation task. Each
// invocation re-enqueues itself with whatever delay the plugin chose, so the
// task never "completes" while the process is up; the bids queue purge at
// startup (Start) prevents duplicate self-perpetuating chains across
// restarts.
func RegisterBidTask(s *Scheduler, ticker BidTicker) {
	s.Register(TaskCalculateBids, QueueBids, 0, time.Minute,
		func(ctx context.Context, payload []byte, attempt int) (Result, error) {
			var p BidTaskPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return Result{}, err
			}
			delay := ticker.Tick(ctx, model.ChainID(p.SourceChain))
			if _, err := s.Enqueue(ctx, TaskCalculateBids, &p, delay); err != nil {
				return Result{}, err
			}
			return Result{Done: true}, nil
		})
}

// EnqueueExecuteTransfer satisfies transfer.Scheduler: the task id returned
// here is the public task_id written back onto the transfer row.
func (s *Scheduler) EnqueueExecuteTransfer(ctx context.Context, internalID uuid.UUID, delay time.Duration) (uuid.UUID, error) {
	return s.Enqueue(ctx, TaskExecuteTransfer, &TransferTaskPayload{InternalID: internalID}, delay)
}

// EnqueueConfirmTransfer satisfies transfer.Scheduler. Confirm is only ever
// scheduled by a successful execute invocation, which is what preserves the
// per-transfer execute → confirm ordering.
func (s *Scheduler) EnqueueConfirmTransfer(ctx context.Context, internalID uuid.UUID, delay time.Duration) error {
	_, err := s.Enqueue(ctx, TaskConfirmTransfer, &TransferTaskPayload{InternalID: internalID}, delay)
	return err
}

// EnqueueCalculateBids seeds the self-perpetuating bid task for one source
// chain - called once per active chain at startup.
func (s *Scheduler) EnqueueCalculateBids(ctx context.Context, src model.ChainID) error {
	_, err := s.Enqueue(ctx, TaskCalculateBids, &BidTaskPayload{SourceChain: uint64(src)}, 0)
	return err
}
