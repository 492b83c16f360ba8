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

// ABI selection: every submission names a contract family (PANTOS_HUB or
// PANTOS_TOKEN), which selects both the target address and the ABI. There
// is a single embedded ABI per family; the configured protocol version
// (checked at startup, see internal/config.CheckProtocolVersion) does not
// select a different ABI.
package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContractFamily identifies which configured address a submission targets.
type ContractFamily int

const (
	FamilyHub ContractFamily = iota
	FamilyToken
)

const hubABIJSON = `[
 {"type":"function","name":"registerServiceNode","inputs":[
   {"name":"url","type":"string"},{"name":"deposit","type":"uint256"},{"name":"withdrawalAddress","type":"address"}
 ],"outputs":[]},
 {"type":"function","name":"unregisterServiceNode","inputs":[],"outputs":[]},
 {"type":"function","name":"cancelServiceNodeUnregistration","inputs":[{"name":"serviceNode","type":"address"}],"outputs":[]},
 {"type":"function","name":"updateServiceNodeUrl","inputs":[{"name":"url","type":"string"}],"outputs":[]},
 {"type":"function","name":"isServiceNodeInTheUnbondingPeriod","inputs":[{"name":"serviceNode","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getServiceNodeUrl","inputs":[{"name":"serviceNode","type":"address"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"isServiceNodeRegistered","inputs":[{"name":"serviceNode","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getValidatorFeeFactor","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getMinimumServiceNodeDeposit","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"verifyTransfer","inputs":[
   {"name":"sender","type":"address"},{"name":"recipient","type":"address"},
   {"name":"sourceToken","type":"address"},{"name":"amount","type":"uint256"},
   {"name":"fee","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}
 ],"outputs":[]},
 {"type":"function","name":"verifyTransferFrom","inputs":[
   {"name":"destinationChainId","type":"uint256"},{"name":"sender","type":"address"},{"name":"recipient","type":"string"},
   {"name":"sourceToken","type":"address"},{"name":"destinationToken","type":"string"},{"name":"amount","type":"uint256"},
   {"name":"fee","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}
 ],"outputs":[]},
 {"type":"function","name":"transfer","inputs":[
   {"name":"sender","type":"address"},{"name":"recipient","type":"address"},
   {"name":"sourceToken","type":"address"},{"name":"amount","type":"uint256"},
   {"name":"fee","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}
 ],"outputs":[{"name":"transferId","type":"uint256"}]},
 {"type":"function","name":"transferFrom","inputs":[
   {"name":"destinationChainId","type":"uint256"},{"name":"sender","type":"address"},{"name":"recipient","type":"string"},
   {"name":"sourceToken","type":"address"},{"name":"destinationToken","type":"string"},{"name":"amount","type":"uint256"},
   {"name":"fee","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}
 ],"outputs":[{"name":"sourceTransferId","type":"uint256"}]},
 {"type":"event","name":"TransferSucceeded","inputs":[
   {"name":"transferId","type":"uint256","indexed":false},
   {"name":"sender","type":"address","indexed":false},
   {"name":"recipient","type":"address","indexed":false}
 ]},
 {"type":"event","name":"TransferFromSucceeded","inputs":[
   {"name":"sourceTransferId","type":"uint256","indexed":false},
   {"name":"sender","type":"address","indexed":false},
   {"name":"recipient","type":"string","indexed":false}
 ]}
]`

const erc20ABIJSON = `[
 {"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var hubABI abi.ABI
var erc20ABI abi.ABI

func init() {
	var err error
	hubABI, err = abi.JSON(strings.NewReader(hubABIJSON))
	if err != nil {
		panic("invalid embedded hub ABI: " + err.Error())
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("invalid embedded ERC-20 ABI: " + err.Error())
	}
}
