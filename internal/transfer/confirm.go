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

package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/health"
	"github.com/pantos-io/servicenode/internal/msgs"
)

// Confirm polls the source chain for the submission outcome. It is invoked
// by the scheduler's ConfirmTransferTask handler.
//
// Return value semantics: done=true means the transfer reached a terminal
// status (REVERTED, CONFIRMED, or FAILED-via-unresolvable) and should not be
// rescheduled. done=false, err=nil means "not complete yet" - the scheduler
// reschedules a plain poll after tasks.confirm_transfer.interval. A non-nil
// err is a transient failure the scheduler retries with bounded backoff
// (tasks.confirm_transfer.retry_interval_after_error, capped at 100
// attempts).
func (e *Engine) Confirm(ctx context.Context, internalID uuid.UUID) (done bool, err error) {
	t, err := e.transfers.Get(ctx, internalID)
	if err != nil {
		return false, err
	}

	client, ok := e.clients[t.SourceChain]
	if !ok {
		return false, i18n.NewError(ctx, msgs.MsgUnknownChain, t.SourceChain)
	}
	if t.InternalTransactionID == nil {
		return false, i18n.NewError(ctx, msgs.MsgUnresolvableSubmission)
	}

	sameChain := t.SourceChain == t.DestinationChain
	status, err := client.GetTransferSubmissionStatus(ctx, *t.InternalTransactionID, sameChain)
	if err != nil {
		if blockchain.IsKind(err, blockchain.KindUnresolvable) {
			if resetErr := e.transfers.ResetNonce(ctx, internalID); resetErr != nil {
				return false, resetErr
			}
			if markErr := e.markFailed(ctx, internalID); markErr != nil {
				return false, markErr
			}
			return true, nil
		}
		return false, err
	}

	if !status.Complete {
		return false, nil
	}
	if status.Reverted {
		if err := e.transfers.MarkReverted(ctx, internalID, status.TransactionHash); err != nil {
			return false, err
		}
		health.TransfersTerminal.WithLabelValues("reverted").Inc()
		return true, nil
	}
	if err := e.transfers.MarkConfirmed(ctx, internalID, status.TransactionHash, status.OnChainTransferID); err != nil {
		return false, err
	}
	health.TransfersTerminal.WithLabelValues("confirmed").Inc()
	return true, nil
}
