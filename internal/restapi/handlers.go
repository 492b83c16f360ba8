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

package restapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/bid"
	"github.com/pantos-io/servicenode/internal/health"
	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
	"github.com/pantos-io/servicenode/internal/transfer"
	"github.com/pantos-io/servicenode/pkg/servicenodeapi"
)

func (s *Server) postTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := log.WithLogField(r.Context(), "role", "rest_transfer")
	timeReceived := time.Now()

	var wire servicenodeapi.TransferRequest
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&wire); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "request body is not valid JSON: " + err.Error()})
		return
	}
	log.L(ctx).Info("new transfer request")

	req, err := s.buildInitiateRequest(ctx, &wire, timeReceived)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	taskID, err := s.engine.Initiate(ctx, req, time.Now())
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	health.TransfersAccepted.Inc()
	writeJSON(w, http.StatusOK, servicenodeapi.TransferResponse{TaskID: taskID.String()})
}

// buildInitiateRequest applies the cheap syntactic checks - everything
// that needs no network round trip - and shapes
// the wire request into the engine's typed InitiateRequest. The engine
// re-validates semantics (chain activity, amounts, timing, bid).
func (s *Server) buildInitiateRequest(ctx context.Context, wire *servicenodeapi.TransferRequest, timeReceived time.Time) (*transfer.InitiateRequest, error) {
	srcID, err := parseUint(wire.SourceBlockchainID)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownChain, 0)
	}
	dstID, err := parseUint(wire.DestinationBlockchainID)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownChain, 0)
	}
	src := model.ChainID(srcID)
	dst := model.ChainID(dstID)

	contracts, ok := s.contracts[src]
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownChain, srcID)
	}
	if _, ok := s.contracts[dst]; !ok {
		return nil, i18n.NewError(ctx, msgs.MsgUnknownChain, dstID)
	}

	if !common.IsHexAddress(wire.SenderAddress) {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidSenderAddress, srcID)
	}
	if !common.IsHexAddress(wire.RecipientAddress) {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidRecipientAddress, dstID)
	}
	if !common.IsHexAddress(wire.SourceTokenAddress) {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidTokenAddress, srcID)
	}
	if !common.IsHexAddress(wire.DestinationTokenAddress) {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidTokenAddress, dstID)
	}

	amount, err := parseBig(wire.Amount)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidAmount)
	}
	senderNonce, err := parseUint(wire.Nonce)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidSenderNonce)
	}
	validUntil, err := parseInt(wire.ValidUntil)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidValidUntil)
	}

	if wire.Bid == nil {
		return nil, i18n.NewError(ctx, msgs.MsgBidNotAccepted)
	}
	bidFee, err := parseBig(wire.Bid.Fee)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidFee)
	}
	bidExecutionTime, err := parseUint(wire.Bid.ExecutionTime)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgBidValidUntilShort)
	}
	bidValidUntil, err := parseInt(wire.Bid.ValidUntil)
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgBidExpired)
	}

	return &transfer.InitiateRequest{
		SourceChain:      src,
		DestinationChain: dst,
		Sender:           common.HexToAddress(wire.SenderAddress),
		Recipient:        common.HexToAddress(wire.RecipientAddress),
		SourceToken:      common.HexToAddress(wire.SourceTokenAddress),
		DestinationToken: common.HexToAddress(wire.DestinationTokenAddress),
		Amount:           amount,
		Fee:              bidFee,
		SenderNonce:      senderNonce,
		Signature:        common.FromHex(wire.Signature),
		SourceHub:        contracts.Hub,
		SourceForwarder:  contracts.Forwarder,
		Bid: &model.Bid{
			SourceChain:      src,
			DestinationChain: dst,
			ExecutionTime:    bidExecutionTime,
			Fee:              bidFee,
			ValidUntil:       time.Unix(bidValidUntil, 0),
		},
		BidSignature: common.FromHex(wire.Bid.Signature),
		TimeReceived: timeReceived,
		ValidUntil:   time.Unix(validUntil, 0),
	}, nil
}

func (s *Server) getTransferStatus(w http.ResponseWriter, r *http.Request) {
	ctx := log.WithLogField(r.Context(), "role", "rest_transfer_status")
	rawID := mux.Vars(r)["task_id"]
	taskID, err := uuid.Parse(rawID)
	if err != nil {
		log.L(ctx).Warnf("new transfer status request: task ID %q is not a UUID", rawID)
		writeJSON(w, http.StatusNotFound, errorBody{Message: "task ID " + rawID + " is not a UUID"})
		return
	}
	log.L(ctx).Infof("new transfer status request: %s", taskID)

	t, err := s.engine.Find(ctx, taskID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	resp := servicenodeapi.TransferStatusResponse{
		TaskID:                  taskID.String(),
		SourceBlockchainID:      uint64(t.SourceChain),
		DestinationBlockchainID: uint64(t.DestinationChain),
		SenderAddress:           t.Sender.Hex(),
		RecipientAddress:        t.Recipient.Hex(),
		SourceTokenAddress:      t.SourceToken.Hex(),
		DestinationTokenAddress: t.DestinationToken.Hex(),
		Amount:                  t.Amount.String(),
		Fee:                     t.Fee.String(),
		Status:                  t.Status.Public().String(),
	}
	if t.OnChainTransferID != nil {
		resp.TransferID = t.OnChainTransferID.String()
	}
	if t.TransactionID != nil {
		resp.TransactionID = *t.TransactionID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getBids(w http.ResponseWriter, r *http.Request) {
	ctx := log.WithLogField(r.Context(), "role", "rest_bids")
	src, srcErr := strconv.ParseUint(r.URL.Query().Get("source_blockchain"), 10, 64)
	dst, dstErr := strconv.ParseUint(r.URL.Query().Get("destination_blockchain"), 10, 64)
	if srcErr != nil || dstErr != nil {
		writeError(ctx, w, i18n.NewError(ctx, msgs.MsgBidQueryInvalid))
		return
	}
	log.L(ctx).Infof("new bids request (%d,%d)", src, dst)

	bids, err := s.bids.Find(ctx, model.ChainID(src), model.ChainID(dst))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	// Signatures are computed fresh over the canonical message on every
	// read; they are never persisted with the bid rows.
	resp := make([]servicenodeapi.BidResponse, len(bids))
	for i, b := range bids {
		resp[i] = servicenodeapi.BidResponse{
			Fee:           b.Fee.String(),
			ExecutionTime: b.ExecutionTime,
			ValidUntil:    b.ValidUntil.Unix(),
			Signature:     hex.EncodeToString(bid.SignFresh(s.bidSigner, b)),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getNodesHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.checker.CheckNodes(r.Context()))
}

func parseBig(n json.Number) (*big.Int, error) {
	v, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return nil, strconv.ErrSyntax
	}
	return v, nil
}

func parseUint(n json.Number) (uint64, error) {
	return strconv.ParseUint(n.String(), 10, 64)
}

func parseInt(n json.Number) (int64, error) {
	return strconv.ParseInt(n.String(), 10, 64)
}
