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

// Package signer loads the two distinct key materials the service node
// needs: one secp256k1 key per active blockchain (for signing on-chain
// transactions) and a single Ed25519 key (for signing bids). Chain keys are
// filesystem V3 keystore files; the bid key is an encrypted PKCS#8 PEM.
package signer

// ChainKeyConfig is the per-blockchain portion of the `blockchains.<name>`
// config block: private_key points at a V3 keystore file,
// private_key_password at the file holding its decryption passphrase.
type ChainKeyConfig struct {
	PrivateKeyPath         string
	PrivateKeyPasswordPath string
}

// BidKeyConfig is the `signer.{pem,pem_password}` config block: an
// encrypted PKCS#8 PEM holding the node's Ed25519 bid-signing key.
type BidKeyConfig struct {
	PEMPath         string
	PEMPasswordPath string
}
