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
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pantos-io/servicenode/internal/model"
)

const defaultBidsFileName = "service-node-bids.yml"

// defaultPluginEntry is one row of the YAML file's
// blockchains.<src>.<dst> list (execution_time, fee, valid_period).
type defaultPluginEntry struct {
	ExecutionTime int64 `yaml:"execution_time"`
	Fee           uint64 `yaml:"fee"`
	ValidPeriod   int64 `yaml:"valid_period"`
}

type defaultPluginConfig struct {
	Blockchains map[string]map[string][]defaultPluginEntry `yaml:"blockchains"`
}

// defaultPlugin is the "default" bid plugin: reads a YAML file once (lazily,
// on first GetBids call) mapping source-chain name to destination-chain
// name to a list of (execution_time, fee, valid_period) entries, and
// accepts every bid unconditionally.
type defaultPlugin struct {
	path   string
	names  map[model.ChainID]string
	config *defaultPluginConfig
}

func newDefaultPlugin(args map[string]any) (Plugin, error) {
	path := defaultBidsFileName
	if p, ok := args["file_path"].(string); ok && p != "" {
		path = p
	}
	names := map[model.ChainID]string{}
	if raw, ok := args["chain_names"].(map[string]any); ok {
		for name, v := range raw {
			switch id := v.(type) {
			case int:
				names[model.ChainID(id)] = name
			case int64:
				names[model.ChainID(id)] = name
			case float64:
				names[model.ChainID(id)] = name
			case string:
				if n, err := strconv.ParseUint(id, 10, 64); err == nil {
					names[model.ChainID(n)] = name
				}
			}
		}
	}
	return &defaultPlugin{path: path, names: names}, nil
}

func (p *defaultPlugin) chainName(id model.ChainID) string {
	if name, ok := p.names[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (p *defaultPlugin) load() error {
	if p.config != nil {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading bid plugin config %q: %w", p.path, err)
	}
	var cfg defaultPluginConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing bid plugin config %q: %w", p.path, err)
	}
	p.config = &cfg
	return nil
}

// GetBids implements Plugin. A missing source or destination entry means
// no bids are currently available, which the engine treats as transient
// and logs rather than propagates.
func (p *defaultPlugin) GetBids(ctx context.Context, src, dst model.ChainID, args map[string]any) ([]Quote, time.Duration, error) {
	if err := p.load(); err != nil {
		return nil, 0, err
	}
	srcEntries, ok := p.config.Blockchains[p.chainName(src)]
	if !ok {
		return nil, 0, fmt.Errorf("no bids for source blockchain %d", src)
	}
	entries, ok := srcEntries[p.chainName(dst)]
	if !ok {
		return nil, 0, fmt.Errorf("no bids for source blockchain %d and destination blockchain %d", src, dst)
	}
	now := time.Now()
	quotes := make([]Quote, len(entries))
	for i, e := range entries {
		quotes[i] = Quote{
			ExecutionTime: time.Duration(e.ExecutionTime) * time.Second,
			Fee:           e.Fee,
			ValidUntil:    now.Add(time.Duration(e.ValidPeriod) * time.Second),
		}
	}
	return quotes, defaultDelay, nil
}

// AcceptBid implements Plugin: the default strategy accepts every bid it
// itself quoted.
func (p *defaultPlugin) AcceptBid(ctx context.Context, bid *model.Bid) bool {
	return true
}
