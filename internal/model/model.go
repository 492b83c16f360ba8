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

// Package model holds the persisted entities of the service node,
// independent of how they are stored (see internal/store) or transported
// (see pkg/servicenodeapi).
package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ChainID identifies a supported blockchain. The active set is configured,
// never discovered at runtime.
type ChainID uint64

// ChainInfo carries a chain's two configured intent flags.
type ChainInfo struct {
	ID         ChainID
	Name       string
	Active     bool // interactive: do we talk to this chain at all
	Registered bool // intended to be registered on-chain
}

// TransferStatus is the transfer state machine.
type TransferStatus int

const (
	StatusAccepted TransferStatus = iota
	StatusAcceptedNewNonceAssigned
	StatusSubmitted
	StatusFailed
	StatusReverted
	StatusConfirmed
)

func (s TransferStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusAcceptedNewNonceAssigned:
		return "accepted_new_nonce_assigned"
	case StatusSubmitted:
		return "submitted"
	case StatusFailed:
		return "failed"
	case StatusReverted:
		return "reverted"
	case StatusConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Public collapses the internal-only ACCEPTED_NEW_NONCE_ASSIGNED variant
// into its public projection.
func (s TransferStatus) Public() TransferStatus {
	if s == StatusAcceptedNewNonceAssigned {
		return StatusAccepted
	}
	return s
}

func (s TransferStatus) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusReverted, StatusConfirmed:
		return true
	default:
		return false
	}
}

// Transfer is the authoritative transfer record. Fields in the immutable
// block must never be written to after Create.
type Transfer struct {
	// Immutable
	InternalID            uuid.UUID
	SourceChain            ChainID
	DestinationChain       ChainID
	Sender                 common.Address
	Recipient              common.Address
	SourceToken            common.Address
	DestinationToken       common.Address
	Amount                 *big.Int
	Fee                    *big.Int
	SenderNonce            uint64
	Signature              []byte
	SourceHubRef           common.Address
	SourceForwarderRef     common.Address
	ValidUntil             time.Time
	CreatedAt              time.Time

	// Mutable. InternalTransactionID is the opaque submission handle
	// returned by StartTransferSubmission and consumed by the confirm poll;
	// TransactionID is the public transaction hash, written only once the
	// submission reaches CONFIRMED or REVERTED.
	TaskID                *uuid.UUID
	InternalTransactionID *string
	TransactionID         *string
	OnChainTransferID     *big.Int
	BlockchainNonce       *uint64
	Status                TransferStatus
	UpdatedAt             time.Time
}

// Bid is a fee quote for a (source,destination) pair.
type Bid struct {
	SourceChain      ChainID
	DestinationChain ChainID
	ExecutionTime    uint64 // seconds
	Fee              *big.Int
	ValidUntil       time.Time
	Signature        []byte
}

// ContractKind distinguishes the three contract-registry tables
// ("hub_contracts", "forwarder_contracts", "token_contracts").
type ContractKind int

const (
	ContractHub ContractKind = iota
	ContractForwarder
	ContractToken
)

// ContractRef is a row of the append-only contract registry.
type ContractRef struct {
	Kind    ContractKind
	Chain   ChainID
	Address common.Address
}
