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
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config mirrors one blockchains.<name> configuration block.
type Config struct {
	Name                       string
	ChainID                    uint64
	Active                     bool
	Registered                 bool
	Provider                   string
	FallbackProviders          []string
	ProviderTimeout            time.Duration
	AverageBlockTime           time.Duration
	Hub                        common.Address
	Forwarder                  common.Address
	PanToken                   common.Address
	Confirmations              uint64
	WithdrawalAddress          common.Address
	Deposit                    *big.Int
	ProtocolVersion            string

	// Adaptive fee resubmission.
	MinAdaptableFeePerGas       *big.Int
	MaxTotalFeePerGas           *big.Int // nil or zero => uncapped
	AdaptableFeeIncreaseFactor  float64
	BlocksUntilResubmission     uint64
}

// MinIncreaseFactor is the floor for adaptable_fee_increase_factor.
const MinIncreaseFactor = 1.0

func (c *Config) IsCapped() bool {
	return c.MaxTotalFeePerGas != nil && c.MaxTotalFeePerGas.Sign() > 0
}
