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

package bid

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
	"github.com/pantos-io/servicenode/internal/signer"
)

// CanonicalMessage builds the fixed-order message bids are signed over:
// UTF-8 concatenation of ("", fee, valid_until, src_id, dst_id,
// execution_time). The leading empty string is part of the wire format the
// companion client tooling expects.
func CanonicalMessage(b *model.Bid) []byte {
	return []byte(fmt.Sprintf("%s%s%d%d%d%d",
		"",
		b.Fee.String(),
		b.ValidUntil.Unix(),
		uint64(b.SourceChain),
		uint64(b.DestinationChain),
		b.ExecutionTime,
	))
}

// SignFresh signs b over its canonical message and returns the signature,
// never mutating b. GET /bids computes these on every read rather than
// persisting a signature with the bid row.
func SignFresh(s *signer.BidSigner, b *model.Bid) []byte {
	return s.Sign(CanonicalMessage(b))
}

// Verifier applies the five ordered checks to an inbound transfer
// request's claimed bid.
type Verifier struct {
	signer *signer.BidSigner
	plugin Plugin
}

func NewVerifier(s *signer.BidSigner, plugin Plugin) *Verifier {
	return &Verifier{signer: s, plugin: plugin}
}

// Request is the subset of a transfer-intake request the verifier needs.
type Request struct {
	SourceChain      model.ChainID
	DestinationChain model.ChainID
	TimeReceived     time.Time
	ValidUntil       time.Time
}

// Verify runs the five checks in order, stopping at the first failure.
func (v *Verifier) Verify(ctx context.Context, bid *model.Bid, sig []byte, req Request, now time.Time) error {
	if bid.SourceChain != req.SourceChain || bid.DestinationChain != req.DestinationChain {
		return i18n.NewError(ctx, msgs.MsgBidPairMismatch, req.SourceChain, req.DestinationChain)
	}
	if !bid.ValidUntil.After(now) {
		return i18n.NewError(ctx, msgs.MsgBidExpired)
	}
	if !signer.Verify(v.signer.PublicKey(), CanonicalMessage(bid), sig) {
		return i18n.NewError(ctx, msgs.MsgBidSignatureBad)
	}
	if uint64(req.ValidUntil.Unix()) < uint64(req.TimeReceived.Unix())+bid.ExecutionTime {
		return i18n.NewError(ctx, msgs.MsgBidValidUntilShort)
	}
	if !v.plugin.AcceptBid(ctx, bid) {
		return i18n.NewError(ctx, msgs.MsgBidNotAccepted)
	}
	return nil
}
