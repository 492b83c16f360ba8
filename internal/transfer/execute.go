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
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/health"
	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/msgs"
)

// Execute drives one submission attempt. It is invoked by the scheduler's
// ExecuteTransferTask handler with the transfer's internal id.
//
// A nil return means this invocation is done and the scheduler should not
// retry it (either the submission succeeded and a confirm poll was
// scheduled, or the transfer was classified Unrecoverable and marked
// FAILED). A non-nil return means the scheduler should retry - execute
// retries are unbounded.
func (e *Engine) Execute(ctx context.Context, internalID uuid.UUID) error {
	t, err := e.transfers.Get(ctx, internalID)
	if err != nil {
		return err
	}

	if !t.ValidUntil.IsZero() && time.Now().After(t.ValidUntil) {
		log.L(ctx).Warnf("transfer %s valid_until elapsed before execute, marking failed", internalID)
		return e.markFailed(ctx, internalID)
	}

	sameChain := t.SourceChain == t.DestinationChain
	if sameChain && t.SourceToken != t.DestinationToken {
		log.L(ctx).Warnf("transfer %s unrecoverable: %s", internalID,
			i18n.NewError(ctx, msgs.MsgCrossChainTokenMismatch))
		return e.markFailed(ctx, internalID)
	}

	client, ok := e.clients[t.SourceChain]
	if !ok {
		log.L(ctx).Errorf("transfer %s references unconfigured source chain %d, marking failed", internalID, t.SourceChain)
		return e.markFailed(ctx, internalID)
	}

	blockchainNonce, err := e.nonces.Allocate(ctx, t.SourceChain, internalID)
	if err != nil {
		return err
	}

	sub := &blockchain.TransferSubmission{
		InternalID:         internalID.String(),
		Sender:             t.Sender,
		Recipient:          t.Recipient,
		SourceToken:        t.SourceToken,
		DestinationToken:   t.DestinationToken,
		Amount:             t.Amount,
		Fee:                t.Fee,
		SenderNonce:        t.SenderNonce,
		Signature:          t.Signature,
		SourceHub:          t.SourceHubRef,
		SourceForwarder:    t.SourceForwarderRef,
		DestinationChainID: t.DestinationChain,
		BlockchainNonce:    blockchainNonce,
	}

	var handle string
	if sameChain {
		handle, err = client.StartTransferSubmission(ctx, sub)
	} else {
		handle, err = client.StartTransferFromSubmission(ctx, sub)
	}

	switch {
	case err == nil:
		if markErr := e.transfers.MarkSubmitted(ctx, internalID, handle); markErr != nil {
			return markErr
		}
		return e.scheduler.EnqueueConfirmTransfer(ctx, internalID, e.confirmInterval)

	case blockchain.IsKind(err, blockchain.KindInsufficientBalance), blockchain.IsKind(err, blockchain.KindInvalidSignature):
		log.L(ctx).Warnf("transfer %s unrecoverable at execute: %s", internalID, err)
		return e.markFailed(ctx, internalID)

	case blockchain.IsKind(err, blockchain.KindNonceTooLow), blockchain.IsKind(err, blockchain.KindUnderpriced):
		if resetErr := e.nonces.Reset(ctx, internalID); resetErr != nil {
			return resetErr
		}
		return err

	default:
		if revertErr := e.transfers.RevertToAccepted(ctx, internalID); revertErr != nil {
			return revertErr
		}
		return err
	}
}

func (e *Engine) markFailed(ctx context.Context, internalID uuid.UUID) error {
	if err := e.transfers.MarkFailed(ctx, internalID); err != nil {
		return err
	}
	health.TransfersTerminal.WithLabelValues("failed").Inc()
	return nil
}
