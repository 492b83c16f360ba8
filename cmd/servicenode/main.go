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

// The servicenode command runs the cross-chain token-transfer service node.
// Startup follows a fixed initialization order: configuration (whose
// validation includes the protocol-compatibility check) → logging →
// database → signer → chain clients → plugins; the protocol check therefore
// runs before the chain clients are constructed, not after them. Any
// failure up to that point is infrastructure-fatal and exits non-zero.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pantos-io/servicenode/internal/bid"
	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/blockchain/evm"
	"github.com/pantos-io/servicenode/internal/blockchain/solana"
	"github.com/pantos-io/servicenode/internal/config"
	"github.com/pantos-io/servicenode/internal/health"
	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/nonce"
	"github.com/pantos-io/servicenode/internal/registrar"
	"github.com/pantos-io/servicenode/internal/restapi"
	"github.com/pantos-io/servicenode/internal/retry"
	"github.com/pantos-io/servicenode/internal/scheduler"
	"github.com/pantos-io/servicenode/internal/signer"
	"github.com/pantos-io/servicenode/internal/store"
	"github.com/pantos-io/servicenode/internal/transfer"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "servicenode",
		Short: "Pantos service node: accepts signed transfer requests and relays them on-chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "service-node-config.yml", "path to the YAML configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "servicenode: %s\n", err)
		os.Exit(1)
	}
}

// chainNonceRouter fans nonce.ChainNonceReader out to the per-chain clients.
type chainNonceRouter struct {
	clients map[model.ChainID]blockchain.Client
}

func (r *chainNonceRouter) LatestAccountNonce(ctx context.Context, chain model.ChainID) (uint64, error) {
	client, ok := r.clients[chain]
	if !ok {
		return 0, fmt.Errorf("no blockchain client for chain %d", chain)
	}
	return client.LatestAccountNonce(ctx, chain)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return err
	}

	level := "info"
	if cfg.Application.Debug {
		level = "debug"
	}
	log.Init(level, log.Config{
		Format:  cfg.Application.Log.Format,
		Console: log.ConsoleConfig{Enabled: cfg.Application.Log.Console.Enabled},
		File: log.FileConfig{
			Enabled:     cfg.Application.Log.File.Enabled,
			Name:        cfg.Application.Log.File.Name,
			MaxBytes:    cfg.Application.Log.File.MaxBytes,
			BackupCount: cfg.Application.Log.File.BackupCount,
		},
	})
	log.L(ctx).Infof("service node starting (protocol %s, supported %v)", cfg.Protocol, config.SupportedProtocolVersions())

	// The database is commonly the last dependency up in a fresh deployment;
	// retry the initial connection briefly before treating it as fatal.
	var st *store.Store
	err = retry.New(retry.Config{MaxAttempts: 5}).Do(ctx, "database connect", func(attempt int) (bool, error) {
		var openErr error
		st, openErr = store.Open(ctx, store.Config{
			URL:             cfg.Database.URL,
			PoolSize:        cfg.Database.PoolSize,
			MaxOverflow:     cfg.Database.MaxOverflow,
			Echo:            cfg.Database.Echo,
			ApplyMigrations: cfg.Database.ApplyMigrations,
		})
		return true, openErr
	})
	if err != nil {
		return err
	}

	bidSigner, err := signer.NewBidSigner(ctx, signer.BidKeyConfig{
		PEMPath:         cfg.Signer.PEM,
		PEMPasswordPath: cfg.Signer.PEMPassword,
	})
	if err != nil {
		return err
	}

	chainInfos := cfg.ChainInfos()
	clients := map[model.ChainID]blockchain.Client{}
	contracts := map[model.ChainID]restapi.ChainContracts{}
	registrations := map[model.ChainID]registrar.ChainRegistration{}
	var probes []health.Probe

	for name, bc := range cfg.Blockchains {
		if !bc.Active {
			continue
		}
		id := model.ChainID(bc.ChainID)
		if config.IsSolana(name) {
			clients[id] = solana.New(id)
		} else {
			chainSigner, err := signer.NewChainSigner(ctx, name, signer.ChainKeyConfig{
				PrivateKeyPath:         bc.PrivateKey,
				PrivateKeyPasswordPath: bc.PrivateKeyPassword,
			})
			if err != nil {
				return err
			}
			clients[id] = evm.New(evm.Config{
				Name:                       name,
				ChainID:                    bc.ChainID,
				Active:                     bc.Active,
				Registered:                 bc.Registered,
				Provider:                   bc.Provider,
				FallbackProviders:          bc.FallbackProviders,
				ProviderTimeout:            bc.ProviderTimeoutDuration(),
				AverageBlockTime:           bc.AverageBlockTimeDuration(),
				Hub:                        common.HexToAddress(bc.Hub),
				Forwarder:                  common.HexToAddress(bc.Forwarder),
				PanToken:                   common.HexToAddress(bc.PanToken),
				Confirmations:              bc.Confirmations,
				WithdrawalAddress:          common.HexToAddress(bc.WithdrawalAddress),
				Deposit:                    bc.DepositAmount(),
				ProtocolVersion:            cfg.Protocol,
				MinAdaptableFeePerGas:      big.NewInt(bc.MinAdaptableFeePerGas),
				MaxTotalFeePerGas:          big.NewInt(bc.MaxTotalFeePerGas),
				AdaptableFeeIncreaseFactor: bc.AdaptableFeeIncreaseFactor,
				BlocksUntilResubmission:    bc.BlocksUntilResubmission,
			}, chainSigner)
		}
		contracts[id] = restapi.ChainContracts{
			Hub:       common.HexToAddress(bc.Hub),
			Forwarder: common.HexToAddress(bc.Forwarder),
		}
		registrations[id] = registrar.ChainRegistration{
			Info:              chainInfos[id],
			NodeURL:           cfg.Application.URL,
			Deposit:           bc.DepositAmount(),
			WithdrawalAddress: bc.WithdrawalAddress,
		}
		probes = append(probes, health.Probe{
			ChainName: name,
			Provider:  bc.Provider,
			Timeout:   bc.ProviderTimeoutDuration(),
		})
	}

	plugin, err := bid.New(cfg.Plugins.Bids.Class, cfg.Plugins.Bids.Arguments)
	if err != nil {
		return err
	}
	verifier := bid.NewVerifier(bidSigner, plugin)
	bidEngine := bid.NewEngine(clients, st.Bids(), plugin, cfg.Plugins.Bids.Arguments)

	allocator := nonce.New(st.Transfers(), &chainNonceRouter{clients: clients})
	sched := scheduler.New(st.Tasks(), scheduler.Options{})
	engine := transfer.NewEngine(
		st.Transfers(), st.Contracts(), chainInfos, clients,
		allocator, verifier, sched, cfg.ConfirmInterval(),
	)
	scheduler.RegisterTransferTasks(sched, engine, scheduler.TransferTaskConfig{
		ConfirmInterval:      cfg.ConfirmInterval(),
		ConfirmRetryInterval: cfg.ConfirmRetryInterval(),
		ExecuteRetryInterval: cfg.ExecuteRetryInterval(),
	})
	scheduler.RegisterBidTask(sched, bidEngine)

	// Registration reconciliation runs once, at startup only.
	if err := registrar.New(clients, registrations).Reconcile(ctx); err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	for id := range clients {
		if err := sched.EnqueueCalculateBids(ctx, id); err != nil {
			return err
		}
	}

	server := restapi.NewServer(restapi.Config{
		Host:           cfg.Application.Host,
		Port:           cfg.Application.Port,
		SSLCertificate: cfg.Application.SSLCertificate,
		SSLPrivateKey:  cfg.Application.SSLPrivateKey,
	}, engine, st.Bids(), bidSigner, health.NewChecker(probes), contracts)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.L(ctx).Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
