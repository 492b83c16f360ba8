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

package signer

import (
	"context"
	"crypto/ecdsa"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/keystorev3"

	"github.com/pantos-io/servicenode/internal/msgs"
)

// ChainSigner holds one chain's secp256k1 signing key, decrypted once at
// startup and kept resident for the process lifetime - it implements
// evm.Signer so a blockchain/evm.Client can sign outbound transactions.
type ChainSigner struct {
	address common.Address
	privKey *ecdsa.PrivateKey
}

// NewChainSigner decrypts the V3 keystore at conf.PrivateKeyPath using the
// passphrase stored in conf.PrivateKeyPasswordPath
// (blockchains.<name>.{private_key,private_key_password}).
func NewChainSigner(ctx context.Context, chainName string, conf ChainKeyConfig) (*ChainSigner, error) {
	keyData, err := os.ReadFile(conf.PrivateKeyPath)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadKeystore, chainName, err.Error())
	}
	passData, err := os.ReadFile(conf.PrivateKeyPasswordPath)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadKeystore, chainName, err.Error())
	}
	wf, err := keystorev3.ReadWalletFile(keyData, []byte(strings.TrimSpace(string(passData))))
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadKeystore, chainName, err.Error())
	}
	privKey, err := ethcrypto.ToECDSA(wf.PrivateKey())
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSignerBadKeystore, chainName, err.Error())
	}
	return &ChainSigner{
		address: ethcrypto.PubkeyToAddress(privKey.PublicKey),
		privKey: privKey,
	}, nil
}

func (s *ChainSigner) Address() common.Address { return s.address }

func (s *ChainSigner) PrivateKey() (*ecdsa.PrivateKey, error) { return s.privKey, nil }
