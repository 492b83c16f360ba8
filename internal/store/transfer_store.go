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

package store

import (
	"context"
	"database/sql"
	"errors"
	"math/big"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"gorm.io/gorm"

	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/msgs"
)

// ErrNonceNotUnique is returned by Create when the (forwarder, sender,
// sender_nonce) uniqueness invariant is violated by a non-terminal-fail
// holder.
var ErrNonceNotUnique = errors.New("sender nonce not unique")

var ErrNotFound = errors.New("transfer not found")

type TransferStore struct {
	db *gorm.DB
}

// Create persists a brand-new ACCEPTED transfer. It enforces the
// (source_forwarder_ref, sender, sender_nonce) uniqueness invariant against
// any existing row that is not in a terminal-fail status
func (s *TransferStore) Create(ctx context.Context, t *model.Transfer) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&transferRow{}).
			Where("source_forwarder_ref = ? AND sender = ? AND sender_nonce = ? AND status NOT IN ?",
				t.SourceForwarderRef.Hex(), t.Sender.Hex(), t.SenderNonce,
				[]int{int(model.StatusFailed), int(model.StatusReverted)}).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrNonceNotUnique
		}
		return tx.Create(fromModel(t)).Error
	})
}

func (s *TransferStore) get(ctx context.Context, tx *gorm.DB, internalID uuid.UUID) (*transferRow, error) {
	var row transferRow
	err := tx.WithContext(ctx).First(&row, "internal_id = ?", internalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *TransferStore) Get(ctx context.Context, internalID uuid.UUID) (*model.Transfer, error) {
	row, err := s.get(ctx, s.db, internalID)
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *TransferStore) FindByTaskID(ctx context.Context, taskID uuid.UUID) (*model.Transfer, error) {
	var row transferRow
	err := s.db.WithContext(ctx).First(&row, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, i18n.NewError(ctx, msgs.MsgTransferNotFound, taskID.String())
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// SetTaskID writes back the scheduler-allocated task id.
func (s *TransferStore) SetTaskID(ctx context.Context, internalID uuid.UUID, taskID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Update("task_id", taskID).Error
}

// UpdateStatus performs a plain status transition with no other side effect.
func (s *TransferStore) UpdateStatus(ctx context.Context, internalID uuid.UUID, status model.TransferStatus) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Update("status", int(status)).Error
}

// MarkFailed transitions to FAILED and clears sender_nonce so the
// (forwarder,sender,nonce) uniqueness constraint no longer blocks reuse
//.
func (s *TransferStore) MarkFailed(ctx context.Context, internalID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Updates(map[string]any{"status": int(model.StatusFailed), "sender_nonce": 0}).Error
}

// MarkReverted transitions to REVERTED, records the real transaction hash,
// and clears sender_nonce.
func (s *TransferStore) MarkReverted(ctx context.Context, internalID uuid.UUID, transactionID string) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Updates(map[string]any{
			"status":         int(model.StatusReverted),
			"transaction_id": transactionID,
			"sender_nonce":   0,
		}).Error
}

// MarkSubmitted records the opaque submission handle and SUBMITTED status.
// The handle is internal state for the confirm poll only; the public
// transaction_id column stays NULL until the submission reaches CONFIRMED
// or REVERTED.
func (s *TransferStore) MarkSubmitted(ctx context.Context, internalID uuid.UUID, internalTransactionID string) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Updates(map[string]any{"status": int(model.StatusSubmitted), "internal_transaction_id": internalTransactionID}).Error
}

// MarkConfirmed records the transaction hash, on-chain transfer id, and
// CONFIRMED status - the only path by which on_chain_transfer_id becomes
// non-NULL.
func (s *TransferStore) MarkConfirmed(ctx context.Context, internalID uuid.UUID, transactionID string, onChainTransferID *big.Int) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Updates(map[string]any{
			"status":               int(model.StatusConfirmed),
			"transaction_id":       transactionID,
			"on_chain_transfer_id": onChainTransferID.String(),
		}).Error
}

// ResetNonce clears the blockchain_nonce column so the next execute cycle
// reallocates.
func (s *TransferStore) ResetNonce(ctx context.Context, internalID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Update("blockchain_nonce", nil).Error
}

// RevertToAccepted undoes the _NEW_NONCE_ASSIGNED tag so the transfer is
// re-picked by a future execute attempt.
func (s *TransferStore) RevertToAccepted(ctx context.Context, internalID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Update("status", int(model.StatusAccepted)).Error
}

// AbandonedNonceHolders returns transfers on chain carrying a non-NULL
// blockchain_nonce with status FAILED or ACCEPTED - the candidate reclaim
// pool, ordered by nonce ascending so the caller can pick the minimum
// deterministically.
func (s *TransferStore) AbandonedNonceHolders(ctx context.Context, tx *gorm.DB, chain model.ChainID) ([]*model.Transfer, error) {
	var rows []transferRow
	err := tx.WithContext(ctx).
		Where("source_chain = ? AND blockchain_nonce IS NOT NULL AND status IN ?",
			uint64(chain), []int{int(model.StatusFailed), int(model.StatusAccepted)}).
		Order("blockchain_nonce ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Transfer, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// MaxNonce returns the highest blockchain_nonce ever assigned on chain, or
// -1 if none have been assigned yet.
func (s *TransferStore) MaxNonce(ctx context.Context, tx *gorm.DB, chain model.ChainID) (int64, error) {
	var max *uint64
	err := tx.WithContext(ctx).Model(&transferRow{}).
		Where("source_chain = ? AND blockchain_nonce IS NOT NULL", uint64(chain)).
		Select("MAX(blockchain_nonce)").Scan(&max).Error
	if err != nil {
		return -1, err
	}
	if max == nil {
		return -1, nil
	}
	return int64(*max), nil
}

// AssignNonce sets blockchain_nonce and tags the transfer
// ACCEPTED_NEW_NONCE_ASSIGNED. Used by the nonce allocator within its
// serializable transaction.
func (s *TransferStore) AssignNonce(ctx context.Context, tx *gorm.DB, internalID uuid.UUID, nonce uint64) error {
	return tx.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", internalID).
		Updates(map[string]any{
			"blockchain_nonce": nonce,
			"status":           int(model.StatusAcceptedNewNonceAssigned),
		}).Error
}

// ClearNonceKeepStatus nulls blockchain_nonce on the previous holder while
// preserving FAILED, or reverting to ACCEPTED otherwise.
func (s *TransferStore) ClearNonceKeepStatus(ctx context.Context, tx *gorm.DB, t *model.Transfer) error {
	newStatus := model.StatusAccepted
	if t.Status == model.StatusFailed {
		newStatus = model.StatusFailed
	}
	return tx.WithContext(ctx).Model(&transferRow{}).
		Where("internal_id = ?", t.InternalID).
		Updates(map[string]any{
			"blockchain_nonce": nil,
			"status":           int(newStatus),
		}).Error
}

// WithTx runs fn inside a single SERIALIZABLE database transaction, for
// callers (like the nonce allocator) that must atomically read-then-write
// across several TransferStore calls. On sqlite (tests) the isolation option
// is omitted: its single-writer transactions are serializable by nature and
// the driver rejects explicit isolation levels.
func (s *TransferStore) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.db.Dialector.Name() == "postgres" {
		return s.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return s.db.WithContext(ctx).Transaction(fn)
}
