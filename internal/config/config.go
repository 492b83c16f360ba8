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

// Package config loads and validates the service node's YAML configuration
// through viper, as a distinct testable step that runs before logging, database, signer, or chain-client
// initialization.
package config

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/spf13/viper"

	"github.com/pantos-io/servicenode/internal/confutil"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
)

type Config struct {
	Protocol    string            `mapstructure:"protocol"`
	Application ApplicationConfig `mapstructure:"application"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Celery      CeleryConfig      `mapstructure:"celery"`
	Signer      SignerConfig      `mapstructure:"signer"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	Tasks       TasksConfig       `mapstructure:"tasks"`

	Blockchains map[string]BlockchainConfig `mapstructure:"blockchains"`
}

type ApplicationConfig struct {
	Host           string    `mapstructure:"host"`
	Port           int       `mapstructure:"port"`
	URL            string    `mapstructure:"url"`
	SSLCertificate string    `mapstructure:"ssl_certificate"`
	SSLPrivateKey  string    `mapstructure:"ssl_private_key"`
	Debug          bool      `mapstructure:"debug"`
	Log            LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Format  string `mapstructure:"format"`
	Console struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"console"`
	File struct {
		Enabled     bool   `mapstructure:"enabled"`
		Name        string `mapstructure:"name"`
		MaxBytes    int    `mapstructure:"max_bytes"`
		BackupCount int    `mapstructure:"backup_count"`
	} `mapstructure:"file"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	PoolSize        int    `mapstructure:"pool_size"`
	MaxOverflow     int    `mapstructure:"max_overflow"`
	Echo            bool   `mapstructure:"echo"`
	ApplyMigrations bool   `mapstructure:"apply_migrations"`
}

// CeleryConfig is recognized for compatibility with existing deployment
// configuration. The Go scheduler is database-backed (internal/scheduler over
// the tasks table), so broker/backend URLs are accepted but not used.
type CeleryConfig struct {
	Broker  string    `mapstructure:"broker"`
	Backend string    `mapstructure:"backend"`
	Log     LogConfig `mapstructure:"log"`
}

type SignerConfig struct {
	PEM         string `mapstructure:"pem"`
	PEMPassword string `mapstructure:"pem_password"`
}

type PluginsConfig struct {
	Bids BidPluginConfig `mapstructure:"bids"`
}

type BidPluginConfig struct {
	Class     string         `mapstructure:"class"`
	Arguments map[string]any `mapstructure:"arguments"`
}

type TasksConfig struct {
	ConfirmTransfer struct {
		Interval                int `mapstructure:"interval"`
		RetryIntervalAfterError int `mapstructure:"retry_interval_after_error"`
	} `mapstructure:"confirm_transfer"`
	ExecuteTransfer struct {
		RetryIntervalAfterError int `mapstructure:"retry_interval_after_error"`
	} `mapstructure:"execute_transfer"`
}

type BlockchainConfig struct {
	Active                     bool     `mapstructure:"active"`
	Registered                 bool     `mapstructure:"registered"`
	WithdrawalAddress          string   `mapstructure:"withdrawal_address"`
	PrivateKey                 string   `mapstructure:"private_key"`
	PrivateKeyPassword         string   `mapstructure:"private_key_password"`
	Provider                   string   `mapstructure:"provider"`
	FallbackProviders          []string `mapstructure:"fallback_providers"`
	ProviderTimeout            int      `mapstructure:"provider_timeout"`
	AverageBlockTime           int      `mapstructure:"average_block_time"`
	ChainID                    uint64   `mapstructure:"chain_id"`
	Hub                        string   `mapstructure:"hub"`
	Forwarder                  string   `mapstructure:"forwarder"`
	PanToken                   string   `mapstructure:"pan_token"`
	Confirmations              uint64   `mapstructure:"confirmations"`
	MinAdaptableFeePerGas      int64    `mapstructure:"min_adaptable_fee_per_gas"`
	MaxTotalFeePerGas          int64    `mapstructure:"max_total_fee_per_gas"`
	AdaptableFeeIncreaseFactor float64  `mapstructure:"adaptable_fee_increase_factor"`
	BlocksUntilResubmission    uint64   `mapstructure:"blocks_until_resubmission"`
	Deposit                    int64    `mapstructure:"deposit"`
}

const (
	defaultPort            = 8080
	defaultConfirmInterval = 30
	defaultRetryInterval   = 60
	defaultProviderTimeout = 30
)

// Load reads and validates the configuration file at path. Any validation
// failure is infrastructure-fatal: the caller exits non-zero.
func Load(ctx context.Context, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigInvalid, err.Error())
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigInvalid, err.Error())
	}
	cfg.applyDefaults()
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Application.Port = confutil.Int(c.Application.Port, defaultPort)
	c.Application.Host = confutil.StringNotEmpty(c.Application.Host, "0.0.0.0")
	c.Plugins.Bids.Class = confutil.StringNotEmpty(c.Plugins.Bids.Class, "default")
	c.Tasks.ConfirmTransfer.Interval = confutil.Int(c.Tasks.ConfirmTransfer.Interval, defaultConfirmInterval)
	c.Tasks.ConfirmTransfer.RetryIntervalAfterError = confutil.Int(c.Tasks.ConfirmTransfer.RetryIntervalAfterError, defaultRetryInterval)
	c.Tasks.ExecuteTransfer.RetryIntervalAfterError = confutil.Int(c.Tasks.ExecuteTransfer.RetryIntervalAfterError, defaultRetryInterval)
	for name, bc := range c.Blockchains {
		bc.ProviderTimeout = confutil.Int(bc.ProviderTimeout, defaultProviderTimeout)
		c.Blockchains[name] = bc
	}
}

// Validate applies the structural checks that do not need any I/O. Chain
// key material and provider reachability are checked later, by the
// components that consume them.
func (c *Config) Validate(ctx context.Context) error {
	if err := CheckProtocolVersion(ctx, c.Protocol); err != nil {
		return err
	}
	if c.Database.URL == "" {
		return i18n.NewError(ctx, msgs.MsgConfigInvalid, "database.url is required")
	}
	if c.Application.URL == "" {
		return i18n.NewError(ctx, msgs.MsgConfigInvalid, "application.url is required")
	}
	if c.Signer.PEM == "" || c.Signer.PEMPassword == "" {
		return i18n.NewError(ctx, msgs.MsgConfigInvalid, "signer.pem and signer.pem_password are required")
	}
	seenChainIDs := map[uint64]string{}
	for name, bc := range c.Blockchains {
		if !bc.Active {
			continue
		}
		if bc.Provider == "" {
			return i18n.NewError(ctx, msgs.MsgConfigInvalid, "blockchains."+name+".provider is required for an active chain")
		}
		if other, dup := seenChainIDs[bc.ChainID]; dup {
			return i18n.NewError(ctx, msgs.MsgConfigInvalid,
				"blockchains."+name+" and blockchains."+other+" share chain_id")
		}
		seenChainIDs[bc.ChainID] = name
	}
	return nil
}

// ChainInfos maps the configured blockchains into the model.ChainInfo set
// consumed by the transfer engine and registrar.
func (c *Config) ChainInfos() map[model.ChainID]model.ChainInfo {
	out := make(map[model.ChainID]model.ChainInfo, len(c.Blockchains))
	for name, bc := range c.Blockchains {
		id := model.ChainID(bc.ChainID)
		out[id] = model.ChainInfo{
			ID:         id,
			Name:       name,
			Active:     bc.Active,
			Registered: bc.Registered,
		}
	}
	return out
}

// IsSolana reports whether a configured blockchain name selects the stub
// Solana chain family rather than the shared EVM client.
func IsSolana(name string) bool {
	return strings.EqualFold(name, "solana")
}

func (bc *BlockchainConfig) ProviderTimeoutDuration() time.Duration {
	return time.Duration(bc.ProviderTimeout) * time.Second
}

func (bc *BlockchainConfig) AverageBlockTimeDuration() time.Duration {
	return time.Duration(bc.AverageBlockTime) * time.Second
}

func (bc *BlockchainConfig) DepositAmount() *big.Int {
	return big.NewInt(bc.Deposit)
}

func (c *Config) ConfirmInterval() time.Duration {
	return time.Duration(c.Tasks.ConfirmTransfer.Interval) * time.Second
}

func (c *Config) ConfirmRetryInterval() time.Duration {
	return time.Duration(c.Tasks.ConfirmTransfer.RetryIntervalAfterError) * time.Second
}

func (c *Config) ExecuteRetryInterval() time.Duration {
	return time.Duration(c.Tasks.ExecuteTransfer.RetryIntervalAfterError) * time.Second
}
