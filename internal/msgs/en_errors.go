// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package msgs is the registered catalogue of error messages raised by the
// service node. Operator- and client-facing errors of the internal/*
// packages are constructed from these keys so that HTTP translation (see
// internal/restapi) and log correlation have a stable code to key off. Some
// lower-level failures (for example RPC and decoding errors in
// internal/blockchain/evm) are plain Go errors without a code, which
// internal/restapi answers with a 500.
package msgs

import (
	"net/http"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

var registered sync.Once

var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix("PSN", "Pantos Service Node")
	})
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Config / startup PSN00xx
	MsgConfigInvalid            = ffe("PSN0001", "configuration is invalid: %s")
	MsgUnsupportedProtocol      = ffe("PSN0002", "protocol version '%s' is not supported by this service node")
	MsgSignerLoadFailed         = ffe("PSN0003", "failed to load signer key material: %s")
	MsgSignerBadKeystore        = ffe("PSN0007", "blockchain '%s' private_key keystore could not be decrypted: %s")
	MsgSignerBadPEM             = ffe("PSN0008", "signer.pem could not be decrypted: %s")
	MsgSignerNotEd25519         = ffe("PSN0009", "signer.pem does not contain an Ed25519 private key")
	MsgChainClientInitFailed    = ffe("PSN0004", "failed to initialize blockchain client for chain %s: %s")
	MsgDatabaseConnectFailed    = ffe("PSN0005", "failed to connect to the database: %s")
	MsgPluginLoadFailed         = ffe("PSN0006", "failed to load bid plugin '%s': %s")

	// Transfer intake PSN01xx
	MsgInvalidSenderAddress      = ffe("PSN0100", "sender address is not valid on chain %d", http.StatusBadRequest)
	MsgInvalidRecipientAddress   = ffe("PSN0101", "recipient address is not valid on chain %d", http.StatusBadRequest)
	MsgInvalidTokenAddress       = ffe("PSN0102", "token address is not valid on chain %d", http.StatusBadRequest)
	MsgInvalidAmount             = ffe("PSN0103", "amount must be greater than zero", http.StatusBadRequest)
	MsgInvalidValidUntil         = ffe("PSN0104", "valid_until must be in the future", http.StatusBadRequest)
	MsgSourceChainInactive       = ffe("PSN0105", "source blockchain %d is not active or not registered", http.StatusBadRequest)
	MsgSenderNonceNotUnique      = ffe("PSN0106", "sender nonce %d is not unique", http.StatusNotAcceptable)
	MsgCrossChainTokenMismatch   = ffe("PSN0107", "source and destination token must match for a same-chain transfer")
	MsgTransferNotFound          = ffe("PSN0108", "no transfer found for task id '%s'", http.StatusNotFound)
	MsgUnknownChain              = ffe("PSN0109", "blockchain %d is not configured", http.StatusBadRequest)
	MsgInvalidTimeReceived       = ffe("PSN0110", "time_received must not be in the future", http.StatusBadRequest)
	MsgInvalidSenderNonce        = ffe("PSN0111", "sender_nonce must be greater than zero", http.StatusBadRequest)
	MsgInvalidFee                = ffe("PSN0112", "fee must be greater than zero", http.StatusBadRequest)
	MsgTransferUnrecoverable     = ffe("PSN0113", "transfer is unrecoverable: %s")

	// Bid PSN02xx
	MsgBidPairMismatch    = ffe("PSN0200", "bid not valid for blockchain pair (%d,%d)", http.StatusNotAcceptable)
	MsgBidExpired         = ffe("PSN0201", "bid has expired", http.StatusNotAcceptable)
	MsgBidSignatureBad    = ffe("PSN0202", "bid signature invalid", http.StatusNotAcceptable)
	MsgBidValidUntilShort = ffe("PSN0203", "valid_until too short for bid execution time", http.StatusNotAcceptable)
	MsgBidNotAccepted     = ffe("PSN0204", "bid not accepted", http.StatusNotAcceptable)
	MsgBidQueryInvalid    = ffe("PSN0205", "source_blockchain and destination_blockchain query parameters are required", http.StatusBadRequest)
	MsgBidPluginError     = ffe("PSN0206", "bid plugin error (transient): %s")

	// Blockchain client PSN03xx
	MsgInsufficientBalance       = ffe("PSN0300", "insufficient balance of sender")
	MsgInvalidSignature          = ffe("PSN0301", "invalid signature")
	MsgNonceTooLow               = ffe("PSN0302", "transaction nonce too low")
	MsgUnderpriced               = ffe("PSN0303", "transaction underpriced")
	MsgMaxTotalFeeExceeded       = ffe("PSN0304", "max total fee per gas exceeded for chain %d")
	MsgUnresolvableSubmission    = ffe("PSN0305", "transfer submission could not be resolved")
	MsgEventNotFound             = ffe("PSN0306", "expected transfer event not found in transaction receipt")
	MsgSolanaNotImplemented      = ffe("PSN0307", "solana chain support is not implemented")

	// Node registration PSN04xx
	MsgInvalidURL          = ffe("PSN0400", "node url '%s' is invalid")
	MsgInvalidDepositAmount = ffe("PSN0401", "deposit amount is invalid")
	MsgInvalidNodeAddress   = ffe("PSN0402", "blockchain address is invalid")
	MsgRegistrationFatal    = ffe("PSN0403", "registration failed for active chain %s: %s")

	// Scheduler PSN05xx
	MsgTaskUnknown   = ffe("PSN0500", "unknown task '%s'")
	MsgMaxRetriesHit = ffe("PSN0501", "task '%s' exceeded its maximum retry count (%d)")
)
