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

package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pantos-io/servicenode/internal/log"
)

// rpcTransport is a minimal JSON-RPC 2.0 client over resty, trying the
// primary provider then each fallback_providers entry in order on
// transport-level failure only.
type rpcTransport struct {
	clients []*resty.Client
	idGen   int
}

func newRPCTransport(providers []string, timeout time.Duration) *rpcTransport {
	clients := make([]*resty.Client, 0, len(providers))
	for _, p := range providers {
		c := resty.New().SetBaseURL(p).SetHeader("Content-Type", "application/json").SetTimeout(timeout)
		clients = append(clients, c)
	}
	return &rpcTransport{clients: clients}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Call invokes method against the primary provider, falling back through
// fallback_providers on transport failure (connection refused, timeout) -
// never on a JSON-RPC-level error, which reflects node-visible state that a
// different node would report identically.
func (t *rpcTransport) Call(ctx context.Context, method string, params []any, result any) error {
	t.idGen++
	req := &rpcRequest{JSONRPC: "2.0", ID: t.idGen, Method: method, Params: params}

	var lastErr error
	for i, client := range t.clients {
		var rpcResp rpcResponse
		resp, err := client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&rpcResp).
			Post("")
		if err != nil {
			lastErr = err
			log.L(ctx).Warnf("rpc transport %d failed for %s, trying next provider: %v", i, method, err)
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("http status %d calling %s", resp.StatusCode(), method)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		if result != nil && len(rpcResp.Result) > 0 {
			return json.Unmarshal(rpcResp.Result, result)
		}
		return nil
	}
	return fmt.Errorf("all providers failed for %s: %w", method, lastErr)
}
