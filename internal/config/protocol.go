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

package config

import (
	"context"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/msgs"
)

// supportedProtocolVersions is the built-in set of protocol versions this
// node can speak. The configured `protocol` key must name one of them. The
// version does not select an ABI: internal/blockchain/evm uses the same
// embedded hub and token ABIs for every supported version.
var supportedProtocolVersions = map[string]bool{
	"0.1.0": true,
	"0.2.0": true,
}

// LatestProtocolVersion is the highest entry of supportedProtocolVersions.
const LatestProtocolVersion = "0.2.0"

// CheckProtocolVersion validates the configured semver against the supported
// set at startup, before any chain client is constructed.
func CheckProtocolVersion(ctx context.Context, version string) error {
	if !supportedProtocolVersions[strings.TrimSpace(version)] {
		return i18n.NewError(ctx, msgs.MsgUnsupportedProtocol, version)
	}
	return nil
}

// SupportedProtocolVersions returns the supported versions in ascending
// order, for logging at startup.
func SupportedProtocolVersions() []string {
	return []string{"0.1.0", "0.2.0"}
}
