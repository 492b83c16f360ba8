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
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/bid"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
	"github.com/pantos-io/servicenode/internal/store"
)

// InitiateRequest is the validated shape RestApi hands to Engine.Initiate
// after decoding POST /transfer. SourceHub
// and SourceForwarder are resolved by the caller from the source chain's
// configuration rather than read back off the chain, since they are the
// node's own configured contract addresses for that chain.
type InitiateRequest struct {
	SourceChain      model.ChainID
	DestinationChain model.ChainID
	Sender           common.Address
	Recipient        common.Address
	SourceToken      common.Address
	DestinationToken common.Address
	Amount           *big.Int
	Fee              *big.Int
	SenderNonce      uint64
	Signature        []byte
	SourceHub        common.Address
	SourceForwarder  common.Address

	// Bid and BidSignature are nil/empty when the caller chose not to quote
	// a bid; the verifier is consulted whenever Bid is non-nil, so a Bid
	// with an empty BidSignature fails its signature check.
	Bid          *model.Bid
	BidSignature []byte

	TimeReceived time.Time
	ValidUntil   time.Time
}

// Initiate validates the request, verifies its bid, persists a new
// ACCEPTED transfer, and
// enqueues the first ExecuteTransferTask. The scheduler-issued task id is
// written back onto the transfer row and returned to the caller.
func (e *Engine) Initiate(ctx context.Context, req *InitiateRequest, now time.Time) (uuid.UUID, error) {
	if err := e.validateIntake(ctx, req, now); err != nil {
		return uuid.Nil, err
	}

	if req.Bid != nil {
		verifyReq := bid.Request{
			SourceChain:      req.SourceChain,
			DestinationChain: req.DestinationChain,
			TimeReceived:     req.TimeReceived,
			ValidUntil:       req.ValidUntil,
		}
		if err := e.verifier.Verify(ctx, req.Bid, req.BidSignature, verifyReq, now); err != nil {
			return uuid.Nil, err
		}
	}

	hubRef, err := e.contracts.GetOrCreate(ctx, model.ContractHub, req.SourceChain, req.SourceHub.Hex())
	if err != nil {
		return uuid.Nil, err
	}
	forwarderRef, err := e.contracts.GetOrCreate(ctx, model.ContractForwarder, req.SourceChain, req.SourceForwarder.Hex())
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := e.contracts.GetOrCreate(ctx, model.ContractToken, req.SourceChain, req.SourceToken.Hex()); err != nil {
		return uuid.Nil, err
	}
	if _, err := e.contracts.GetOrCreate(ctx, model.ContractToken, req.DestinationChain, req.DestinationToken.Hex()); err != nil {
		return uuid.Nil, err
	}

	internalID := uuid.New()
	t := &model.Transfer{
		InternalID:         internalID,
		SourceChain:        req.SourceChain,
		DestinationChain:   req.DestinationChain,
		Sender:             req.Sender,
		Recipient:          req.Recipient,
		SourceToken:        req.SourceToken,
		DestinationToken:   req.DestinationToken,
		Amount:             req.Amount,
		Fee:                req.Fee,
		SenderNonce:        req.SenderNonce,
		Signature:          req.Signature,
		SourceHubRef:       hubRef.Address,
		SourceForwarderRef: forwarderRef.Address,
		ValidUntil:         req.ValidUntil,
		CreatedAt:          now,
		Status:             model.StatusAccepted,
		UpdatedAt:          now,
	}
	if err := e.transfers.Create(ctx, t); err != nil {
		if errors.Is(err, store.ErrNonceNotUnique) {
			return uuid.Nil, i18n.NewError(ctx, msgs.MsgSenderNonceNotUnique, req.SenderNonce)
		}
		return uuid.Nil, err
	}

	taskID, err := e.scheduler.EnqueueExecuteTransfer(ctx, internalID, 0)
	if err != nil {
		return uuid.Nil, err
	}
	if err := e.transfers.SetTaskID(ctx, internalID, taskID); err != nil {
		return uuid.Nil, err
	}
	return taskID, nil
}

func (e *Engine) validateIntake(ctx context.Context, req *InitiateRequest, now time.Time) error {
	srcClient, ok := e.clients[req.SourceChain]
	if !ok {
		return i18n.NewError(ctx, msgs.MsgUnknownChain, req.SourceChain)
	}
	dstClient, ok := e.clients[req.DestinationChain]
	if !ok {
		return i18n.NewError(ctx, msgs.MsgUnknownChain, req.DestinationChain)
	}

	if !srcClient.IsValidAddress(req.Sender.Hex()) {
		return i18n.NewError(ctx, msgs.MsgInvalidSenderAddress, req.SourceChain)
	}
	if !dstClient.IsValidRecipientAddress(req.Recipient.Hex()) {
		return i18n.NewError(ctx, msgs.MsgInvalidRecipientAddress, req.DestinationChain)
	}
	if !srcClient.IsValidAddress(req.SourceToken.Hex()) {
		return i18n.NewError(ctx, msgs.MsgInvalidTokenAddress, req.SourceChain)
	}
	if !dstClient.IsValidAddress(req.DestinationToken.Hex()) {
		return i18n.NewError(ctx, msgs.MsgInvalidTokenAddress, req.DestinationChain)
	}

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidAmount)
	}
	if req.Fee == nil || req.Fee.Sign() <= 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidFee)
	}
	if req.SenderNonce == 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidSenderNonce)
	}
	if !now.After(req.TimeReceived) {
		return i18n.NewError(ctx, msgs.MsgInvalidTimeReceived)
	}
	if !req.ValidUntil.After(now) {
		return i18n.NewError(ctx, msgs.MsgInvalidValidUntil)
	}

	chainInfo, ok := e.chains[req.SourceChain]
	if !ok || !chainInfo.Active || !chainInfo.Registered {
		return i18n.NewError(ctx, msgs.MsgSourceChainInactive, req.SourceChain)
	}

	// Same-chain token equality is deliberately NOT checked here: a
	// mismatched request is accepted, handed a task id, and marked FAILED
	// by the first Execute invocation.
	return nil
}
