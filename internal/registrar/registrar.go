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

// Package registrar reconciles the configured registration intent with the
// on-chain service-node record on every supported chain at startup:
// register, update the node URL, cancel a pending unregistration, or
// unregister.
package registrar

import (
	"context"
	"math/big"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/blockchain"
	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
)

// ChainRegistration is the per-chain configured intent the registrar
// reconciles against on-chain state.
type ChainRegistration struct {
	Info              model.ChainInfo
	NodeURL           string
	Deposit           *big.Int
	WithdrawalAddress string
}

type Registrar struct {
	clients map[model.ChainID]blockchain.Client
	chains  map[model.ChainID]ChainRegistration
}

func New(clients map[model.ChainID]blockchain.Client, chains map[model.ChainID]ChainRegistration) *Registrar {
	return &Registrar{clients: clients, chains: chains}
}

// Reconcile walks every configured chain once. Inactive chains are skipped
// without contacting their client; any failure on an active chain is a
// fatal startup error.
func (r *Registrar) Reconcile(ctx context.Context) error {
	for id, reg := range r.chains {
		ctx := log.WithLogField(ctx, "chain", reg.Info.Name)
		if !reg.Info.Active {
			continue
		}
		log.L(ctx).Infof("updating the service node registration on %s", reg.Info.Name)
		client, ok := r.clients[id]
		if !ok {
			return i18n.NewError(ctx, msgs.MsgRegistrationFatal, reg.Info.Name, "no blockchain client")
		}
		if err := r.reconcileChain(ctx, client, reg); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgRegistrationFatal, reg.Info.Name, err.Error())
		}
	}
	return nil
}

func (r *Registrar) reconcileChain(ctx context.Context, client blockchain.Client, reg ChainRegistration) error {
	isRegistered, err := client.IsNodeRegistered(ctx)
	if err != nil {
		return err
	}

	switch {
	case reg.Info.Registered && isRegistered:
		oldURL, err := client.ReadNodeURL(ctx)
		if err != nil {
			return err
		}
		if oldURL != reg.NodeURL {
			if err := validateNodeURL(ctx, reg.NodeURL); err != nil {
				return err
			}
			log.L(ctx).Infof("updating node url from %q to %q", oldURL, reg.NodeURL)
			return client.UpdateNodeURL(ctx, reg.NodeURL)
		}
		return nil

	case reg.Info.Registered:
		isUnbonding, err := client.IsUnbonding(ctx)
		if err != nil {
			return err
		}
		if isUnbonding {
			// Unregistered earlier but the deposit has not been withdrawn yet.
			log.L(ctx).Info("cancelling a pending unregistration")
			return client.CancelUnregistration(ctx)
		}
		if err := validateNodeURL(ctx, reg.NodeURL); err != nil {
			return err
		}
		if err := validateDeposit(ctx, client, reg.Deposit); err != nil {
			return err
		}
		if !client.IsValidAddress(reg.WithdrawalAddress) {
			return i18n.NewError(ctx, msgs.MsgInvalidNodeAddress)
		}
		log.L(ctx).Infof("registering service node with deposit %s", reg.Deposit)
		return client.RegisterNode(ctx, reg.NodeURL, reg.Deposit, common.HexToAddress(reg.WithdrawalAddress))

	case isRegistered:
		log.L(ctx).Info("unregistering service node")
		return client.UnregisterNode(ctx)

	default:
		return nil
	}
}

func validateNodeURL(ctx context.Context, nodeURL string) error {
	parsed, err := url.Parse(nodeURL)
	if err != nil {
		return i18n.NewError(ctx, msgs.MsgInvalidURL, nodeURL)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return i18n.NewError(ctx, msgs.MsgInvalidURL, nodeURL)
	}
	return nil
}

// validateDeposit enforces minimum_on_chain_deposit <= deposit <= own token
// balance.
func validateDeposit(ctx context.Context, client blockchain.Client, deposit *big.Int) error {
	if deposit == nil || deposit.Sign() <= 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidDepositAmount)
	}
	minimum, err := client.MinimumServiceNodeDeposit(ctx)
	if err != nil {
		return err
	}
	balance, err := client.OwnTokenBalance(ctx)
	if err != nil {
		return err
	}
	if deposit.Cmp(minimum) < 0 || deposit.Cmp(balance) > 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidDepositAmount)
	}
	return nil
}
