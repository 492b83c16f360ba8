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

// Package bid implements the quoting and verification subsystem: the
// engine recomputes and atomically replaces the bid set per
// (source,destination) pair, and the verifier enforces the five ordered
// checks at transfer intake.
package bid

import (
	"context"
	"fmt"
	"time"

	"github.com/pantos-io/servicenode/internal/model"
)

// Quote is one candidate bid returned by a Plugin's GetBids, before the
// engine composes validator fees onto it.
type Quote struct {
	ExecutionTime time.Duration
	Fee           uint64
	ValidUntil    time.Time
}

// Plugin quotes and vets bids: GetBids(src,dst,args) → (bids, delay);
// AcceptBid(bid) → bool. Strategies are named entries in a registry
// resolved at process start - see Register/New below.
type Plugin interface {
	// GetBids returns candidate quotes for (src,dst) plus the delay before
	// the engine should call it again for this pair.
	GetBids(ctx context.Context, src, dst model.ChainID, args map[string]any) ([]Quote, time.Duration, error)

	// AcceptBid is BidVerifier check 5 ("plugin acceptance").
	AcceptBid(ctx context.Context, bid *model.Bid) bool
}

// PluginFactory constructs a Plugin from its configured arguments
// (plugins.bids.arguments), passed through verbatim.
type PluginFactory func(args map[string]any) (Plugin, error)

var registry = map[string]PluginFactory{}

// Register adds a named bid-plugin strategy to the registry. Called from
// each plugin implementation's init(), mirroring how internal/scheduler
// registers named tasks.
func Register(name string, factory PluginFactory) {
	registry[name] = factory
}

// New resolves plugins.bids.class to a constructed Plugin.
func New(class string, args map[string]any) (Plugin, error) {
	factory, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("unknown bid plugin class %q", class)
	}
	return factory(args)
}

func init() {
	Register("default", func(args map[string]any) (Plugin, error) {
		return newDefaultPlugin(args)
	})
}
