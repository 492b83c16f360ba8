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
	"math/big"
	"time"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
)

const defaultDelay = 60 * time.Second

// BidStore is the subset of store.BidStore the engine needs, kept as an
// interface so tests can fake it without a database.
type BidStore interface {
	ReplaceBids(ctx context.Context, src, dst model.ChainID, bids []*model.Bid) error
}

// Engine recomputes bid quotes: one Tick per source chain recomputes and
// atomically replaces that chain's bids against every configured chain,
// including the source chain itself (same-chain pairs get no validator-fee
// composition).
type Engine struct {
	clients map[model.ChainID]blockchain.Client
	store   BidStore
	plugin  Plugin
	args    map[string]any
}

func NewEngine(clients map[model.ChainID]blockchain.Client, store BidStore, plugin Plugin, args map[string]any) *Engine {
	return &Engine{clients: clients, store: store, plugin: plugin, args: args}
}

// Tick executes one pass for source chain src against every configured
// chain (src included), returning the delay the caller (internal/scheduler)
// should wait before the next tick. The engine never crashes on plugin or
// DB errors: it logs and falls back to defaultDelay for that destination.
func (e *Engine) Tick(ctx context.Context, src model.ChainID) time.Duration {
	srcClient, ok := e.clients[src]
	if !ok {
		log.L(ctx).Errorf("bid engine: no blockchain client configured for source chain %d", src)
		return defaultDelay
	}

	delay := defaultDelay
	for dst, dstClient := range e.clients {
		d, err := e.tickPair(ctx, src, srcClient, dst, dstClient)
		if err != nil {
			log.L(ctx).Warnf("bid engine: unable to replace bids for (%d,%d): %s", src, dst, err)
			continue
		}
		delay = d
	}
	return delay
}

func (e *Engine) tickPair(ctx context.Context, src model.ChainID, srcClient blockchain.Client, dst model.ChainID, dstClient blockchain.Client) (time.Duration, error) {
	quotes, delay, err := e.plugin.GetBids(ctx, src, dst, e.args)
	if err != nil {
		return defaultDelay, err
	}
	if delay <= 0 {
		delay = defaultDelay
	}

	bids := make([]*model.Bid, len(quotes))
	crossChain := src != dst

	var srcFactor, dstFactor *big.Int
	if crossChain {
		srcFactor, err = srcClient.GetValidatorFeeFactor(ctx)
		if err != nil {
			return defaultDelay, err
		}
		dstFactor, err = dstClient.GetValidatorFeeFactor(ctx)
		if err != nil {
			return defaultDelay, err
		}
	}

	for i, q := range quotes {
		fee := new(big.Int).SetUint64(q.Fee)
		if crossChain && srcFactor != nil && srcFactor.Sign() > 0 {
			// fee <- round(fee * (src+dst) / src).
			total := new(big.Int).Add(srcFactor, dstFactor)
			numerator := new(big.Int).Mul(fee, total)
			fee = roundedDiv(numerator, srcFactor)
		}
		bids[i] = &model.Bid{
			SourceChain:      src,
			DestinationChain: dst,
			ExecutionTime:    uint64(q.ExecutionTime.Seconds()),
			Fee:              fee,
			ValidUntil:       q.ValidUntil,
		}
	}

	if err := e.store.ReplaceBids(ctx, src, dst, bids); err != nil {
		return defaultDelay, err
	}
	return delay, nil
}

// roundedDiv computes round(n/d) using integer arithmetic: floor((2n+d)/(2d)).
func roundedDiv(n, d *big.Int) *big.Int {
	twoN := new(big.Int).Lsh(n, 1)
	twoN.Add(twoN, d)
	twoD := new(big.Int).Lsh(d, 1)
	return twoN.Div(twoN, twoD)
}
