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

package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lightweight operational counters exposed on /metrics. Deliberately a small
// fixed set, not a metrics subsystem.
var (
	TransfersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "servicenode",
		Name:      "transfers_accepted_total",
		Help:      "Transfer requests accepted at intake",
	})

	TransfersTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "servicenode",
		Name:      "transfers_terminal_total",
		Help:      "Transfers reaching a terminal status",
	}, []string{"status"})

	NodeProbeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "servicenode",
		Name:      "node_probe_failures_total",
		Help:      "Failed blockchain node health probes",
	}, []string{"chain"})
)
