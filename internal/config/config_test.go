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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
protocol: 0.2.0
application:
  host: 127.0.0.1
  port: 8081
  url: https://sn1.example.com
  debug: true
  log:
    format: json
    console:
      enabled: true
database:
  url: postgresql://sn:sn@localhost/servicenode
  pool_size: 10
  max_overflow: 2
  apply_migrations: true
celery:
  broker: sqla+postgresql://sn:sn@localhost/servicenode
  backend: db+postgresql://sn:sn@localhost/servicenode
signer:
  pem: /etc/servicenode/signer.pem
  pem_password: /etc/servicenode/signer.pem.pass
plugins:
  bids:
    class: default
    arguments:
      file_path: /etc/servicenode/bids.yml
tasks:
  confirm_transfer:
    interval: 12
    retry_interval_after_error: 90
  execute_transfer:
    retry_interval_after_error: 45
blockchains:
  ethereum:
    active: true
    registered: true
    chain_id: 1
    provider: https://eth.example.com
    fallback_providers:
      - https://eth-fallback.example.com
    provider_timeout: 20
    average_block_time: 14
    hub: "0x1111111111111111111111111111111111111111"
    forwarder: "0x2222222222222222222222222222222222222222"
    pan_token: "0x3333333333333333333333333333333333333333"
    confirmations: 12
    withdrawal_address: "0x4444444444444444444444444444444444444444"
    private_key: /etc/servicenode/eth.keystore
    private_key_password: /etc/servicenode/eth.keystore.pass
    min_adaptable_fee_per_gas: 1000000000
    max_total_fee_per_gas: 50000000000
    adaptable_fee_increase_factor: 1.101
    blocks_until_resubmission: 10
    deposit: 100000
  bnb_chain:
    active: false
    registered: false
    chain_id: 3
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service-node-config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(context.Background(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.2.0", cfg.Protocol)
	assert.Equal(t, 8081, cfg.Application.Port)
	assert.Equal(t, "https://sn1.example.com", cfg.Application.URL)
	assert.True(t, cfg.Application.Debug)
	assert.Equal(t, "json", cfg.Application.Log.Format)
	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.True(t, cfg.Database.ApplyMigrations)
	assert.Equal(t, "default", cfg.Plugins.Bids.Class)
	assert.Equal(t, "/etc/servicenode/bids.yml", cfg.Plugins.Bids.Arguments["file_path"])

	assert.Equal(t, 12*time.Second, cfg.ConfirmInterval())
	assert.Equal(t, 90*time.Second, cfg.ConfirmRetryInterval())
	assert.Equal(t, 45*time.Second, cfg.ExecuteRetryInterval())

	eth := cfg.Blockchains["ethereum"]
	assert.Equal(t, uint64(1), eth.ChainID)
	assert.Equal(t, []string{"https://eth-fallback.example.com"}, eth.FallbackProviders)
	assert.Equal(t, 20*time.Second, eth.ProviderTimeoutDuration())
	assert.Equal(t, int64(1000000000), eth.MinAdaptableFeePerGas)
	assert.Equal(t, 1.101, eth.AdaptableFeeIncreaseFactor)
	assert.Equal(t, int64(100000), eth.DepositAmount().Int64())

	infos := cfg.ChainInfos()
	require.Len(t, infos, 2)
	assert.True(t, infos[1].Active)
	assert.True(t, infos[1].Registered)
	assert.Equal(t, "ethereum", infos[1].Name)
	assert.False(t, infos[3].Active)
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `
protocol: 0.1.0
application:
  url: http://sn.example.com
database:
  url: postgresql://sn:sn@localhost/servicenode
signer:
  pem: /k.pem
  pem_password: /k.pass
`
	cfg, err := Load(context.Background(), writeConfig(t, minimal))
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Application.Port)
	assert.Equal(t, "default", cfg.Plugins.Bids.Class)
	assert.Equal(t, time.Duration(defaultConfirmInterval)*time.Second, cfg.ConfirmInterval())
}

func TestLoadRejectsUnsupportedProtocol(t *testing.T) {
	bad := `
protocol: 9.9.9
application:
  url: http://sn.example.com
database:
  url: postgresql://localhost/sn
signer:
  pem: /k.pem
  pem_password: /k.pass
`
	_, err := Load(context.Background(), writeConfig(t, bad))
	require.Error(t, err)
	assert.Regexp(t, "PSN0002", err)
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	bad := `
protocol: 0.2.0
application:
  url: http://sn.example.com
signer:
  pem: /k.pem
  pem_password: /k.pass
`
	_, err := Load(context.Background(), writeConfig(t, bad))
	require.Error(t, err)
	assert.Regexp(t, "PSN0001", err)
}

func TestLoadRejectsActiveChainWithoutProvider(t *testing.T) {
	bad := `
protocol: 0.2.0
application:
  url: http://sn.example.com
database:
  url: postgresql://localhost/sn
signer:
  pem: /k.pem
  pem_password: /k.pass
blockchains:
  ethereum:
    active: true
    chain_id: 1
`
	_, err := Load(context.Background(), writeConfig(t, bad))
	require.Error(t, err)
	assert.Regexp(t, "provider is required", err)
}

func TestLoadRejectsDuplicateChainIDs(t *testing.T) {
	bad := `
protocol: 0.2.0
application:
  url: http://sn.example.com
database:
  url: postgresql://localhost/sn
signer:
  pem: /k.pem
  pem_password: /k.pass
blockchains:
  ethereum:
    active: true
    chain_id: 1
    provider: https://a.example.com
  bnb_chain:
    active: true
    chain_id: 1
    provider: https://b.example.com
`
	_, err := Load(context.Background(), writeConfig(t, bad))
	require.Error(t, err)
	assert.Regexp(t, "share chain_id", err)
}

func TestCheckProtocolVersion(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, CheckProtocolVersion(ctx, "0.1.0"))
	assert.NoError(t, CheckProtocolVersion(ctx, "0.2.0"))
	assert.Error(t, CheckProtocolVersion(ctx, "0.3.0"))
	assert.Error(t, CheckProtocolVersion(ctx, ""))
}

func TestIsSolana(t *testing.T) {
	assert.True(t, IsSolana("solana"))
	assert.True(t, IsSolana("Solana"))
	assert.False(t, IsSolana("ethereum"))
}
