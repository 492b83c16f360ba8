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

// Package health backs the GET /health/nodes endpoint: each
// active chain's provider is probed with a lightweight eth_blockNumber call
// and the per-chain reachability plus block height is reported.
package health

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pantos-io/servicenode/pkg/servicenodeapi"
)

// Probe is one chain's provider endpoint.
type Probe struct {
	ChainName string
	Provider  string
	Timeout   time.Duration
}

type Checker struct {
	probes []Probe
}

func NewChecker(probes []Probe) *Checker {
	return &Checker{probes: probes}
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CheckNodes probes every configured provider concurrently and returns the
// per-chain health map.
func (c *Checker) CheckNodes(ctx context.Context) map[string]servicenodeapi.NodeHealth {
	out := make(map[string]servicenodeapi.NodeHealth, len(c.probes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			h := c.probe(ctx, p)
			mu.Lock()
			out[p.ChainName] = h
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}

func (c *Checker) probe(ctx context.Context, p Probe) servicenodeapi.NodeHealth {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "eth_blockNumber", "params": []any{}}
	var rpcResp rpcResponse
	resp, err := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		R().
		SetContext(ctx).
		SetBody(body).
		Post(p.Provider)
	if err != nil {
		NodeProbeFailures.WithLabelValues(p.ChainName).Inc()
		return servicenodeapi.NodeHealth{Healthy: false, Error: err.Error()}
	}
	if resp.IsError() {
		NodeProbeFailures.WithLabelValues(p.ChainName).Inc()
		return servicenodeapi.NodeHealth{Healthy: false, Error: "http status " + resp.Status()}
	}
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		NodeProbeFailures.WithLabelValues(p.ChainName).Inc()
		return servicenodeapi.NodeHealth{Healthy: false, Error: err.Error()}
	}
	if rpcResp.Error != nil {
		NodeProbeFailures.WithLabelValues(p.ChainName).Inc()
		return servicenodeapi.NodeHealth{Healthy: false, Error: rpcResp.Error.Message}
	}
	height, ok := new(big.Int).SetString(strings.TrimPrefix(rpcResp.Result, "0x"), 16)
	if !ok {
		return servicenodeapi.NodeHealth{Healthy: false, Error: "unparseable block number " + rpcResp.Result}
	}
	return servicenodeapi.NodeHealth{Healthy: true, BlockHeight: height.Uint64()}
}
