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

// Package store is the durable persistence layer, backed by gorm, with row
// structs kept distinct from the domain types of internal/model.
package store

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/pantos-io/servicenode/internal/model"
)

// transferRow is the on-disk shape of a model.Transfer. Addresses and big
// integers are stored as hex/decimal strings - gorm has no native big.Int or
// [20]byte mapping, and strings keep the schema driver-agnostic.
type transferRow struct {
	InternalID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	SourceChain        uint64    `gorm:"index:idx_transfers_nonce_chain"`
	DestinationChain   uint64
	Sender             string `gorm:"index:idx_transfers_forwarder_sender_nonce"`
	Recipient          string
	SourceToken        string
	DestinationToken   string
	Amount             string
	Fee                string
	SenderNonce        uint64 `gorm:"index:idx_transfers_forwarder_sender_nonce"`
	Signature          []byte
	SourceHubRef       string
	SourceForwarderRef string `gorm:"index:idx_transfers_forwarder_sender_nonce"`
	ValidUntil         time.Time
	CreatedAt          time.Time

	TaskID                *uuid.UUID `gorm:"type:uuid;index"`
	InternalTransactionID *string
	TransactionID         *string
	OnChainTransferID     *string
	BlockchainNonce   *uint64 `gorm:"index:idx_transfers_nonce_chain"`
	Status            int     `gorm:"index"`
	UpdatedAt         time.Time
}

func (transferRow) TableName() string { return "transfers" }

func fromModel(t *model.Transfer) *transferRow {
	row := &transferRow{
		InternalID:         t.InternalID,
		SourceChain:        uint64(t.SourceChain),
		DestinationChain:   uint64(t.DestinationChain),
		Sender:             t.Sender.Hex(),
		Recipient:          t.Recipient.Hex(),
		SourceToken:        t.SourceToken.Hex(),
		DestinationToken:   t.DestinationToken.Hex(),
		Amount:             t.Amount.String(),
		Fee:                t.Fee.String(),
		SenderNonce:        t.SenderNonce,
		Signature:          t.Signature,
		SourceHubRef:       t.SourceHubRef.Hex(),
		SourceForwarderRef: t.SourceForwarderRef.Hex(),
		ValidUntil:         t.ValidUntil,
		CreatedAt:          t.CreatedAt,
		TaskID:                t.TaskID,
		InternalTransactionID: t.InternalTransactionID,
		TransactionID:         t.TransactionID,
		BlockchainNonce:       t.BlockchainNonce,
		Status:                int(t.Status),
		UpdatedAt:             t.UpdatedAt,
	}
	if t.OnChainTransferID != nil {
		s := t.OnChainTransferID.String()
		row.OnChainTransferID = &s
	}
	return row
}

func (row *transferRow) toModel() *model.Transfer {
	amount, _ := new(big.Int).SetString(row.Amount, 10)
	fee, _ := new(big.Int).SetString(row.Fee, 10)
	t := &model.Transfer{
		InternalID:         row.InternalID,
		SourceChain:        model.ChainID(row.SourceChain),
		DestinationChain:   model.ChainID(row.DestinationChain),
		Sender:             hexToAddress(row.Sender),
		Recipient:          hexToAddress(row.Recipient),
		SourceToken:        hexToAddress(row.SourceToken),
		DestinationToken:   hexToAddress(row.DestinationToken),
		Amount:             amount,
		Fee:                fee,
		SenderNonce:        row.SenderNonce,
		Signature:          row.Signature,
		SourceHubRef:       hexToAddress(row.SourceHubRef),
		SourceForwarderRef: hexToAddress(row.SourceForwarderRef),
		ValidUntil:         row.ValidUntil,
		CreatedAt:          row.CreatedAt,
		TaskID:                row.TaskID,
		InternalTransactionID: row.InternalTransactionID,
		TransactionID:         row.TransactionID,
		BlockchainNonce:       row.BlockchainNonce,
		Status:                model.TransferStatus(row.Status),
		UpdatedAt:             row.UpdatedAt,
	}
	if row.OnChainTransferID != nil {
		id, _ := new(big.Int).SetString(*row.OnChainTransferID, 10)
		t.OnChainTransferID = id
	}
	return t
}

// bidRow is exactly "bids(src,dst, execution_time PK, valid_until, fee)" -
// no signature column. Bid signatures are never stored; they are computed
// fresh over the canonical message each time a bid is read, by
// internal/bid's CanonicalMessage plus the node's signer.BidSigner.
type bidRow struct {
	SourceChain      uint64 `gorm:"primaryKey"`
	DestinationChain uint64 `gorm:"primaryKey"`
	ExecutionTime    uint64 `gorm:"primaryKey"`
	Fee              string
	ValidUntil       time.Time
}

func (bidRow) TableName() string { return "bids" }

func bidFromModel(b *model.Bid) *bidRow {
	return &bidRow{
		SourceChain:      uint64(b.SourceChain),
		DestinationChain: uint64(b.DestinationChain),
		ExecutionTime:    b.ExecutionTime,
		Fee:              b.Fee.String(),
		ValidUntil:       b.ValidUntil,
	}
}

func (row *bidRow) toModel() *model.Bid {
	fee, _ := new(big.Int).SetString(row.Fee, 10)
	return &model.Bid{
		SourceChain:      model.ChainID(row.SourceChain),
		DestinationChain: model.ChainID(row.DestinationChain),
		ExecutionTime:    row.ExecutionTime,
		Fee:              fee,
		ValidUntil:       row.ValidUntil,
	}
}

type contractRow struct {
	ID      uint `gorm:"primaryKey;autoIncrement"`
	Kind    int  `gorm:"uniqueIndex:idx_contract_kind_chain_addr"`
	Chain   uint64 `gorm:"uniqueIndex:idx_contract_kind_chain_addr"`
	Address string `gorm:"uniqueIndex:idx_contract_kind_chain_addr"`
}

func (contractRow) TableName() string { return "contracts" }

// taskRow backs the durable task queue - enqueue returns a UUID task id
// that survives process restarts.
type taskRow struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	Queue      string    `gorm:"index"`
	Name       string
	Payload    []byte
	NotBefore  time.Time `gorm:"index"`
	Attempts   int
	MaxRetries int // <= 0 means unbounded
	Locked     bool
	Done       bool `gorm:"index"`
}

func (taskRow) TableName() string { return "tasks" }

func hexToAddress(s string) common.Address {
	return common.HexToAddress(s)
}
