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
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/pantos-io/servicenode/internal/model"
)

// ContractRegistry is the append-only (chain,address) registry. Rows are
// created on first reference and reused thereafter.
type ContractRegistry struct {
	db *gorm.DB
}

// GetOrCreate reads the row if it exists, or inserts it. Concurrent
// first-references race: we read-then-insert inside a nested
// transaction (savepoint) that tolerates the unique-index violation from a
// concurrent winner and falls back to a second read, instead of serializing
// on a lock.
func (r *ContractRegistry) GetOrCreate(ctx context.Context, kind model.ContractKind, chain model.ChainID, address string) (*model.ContractRef, error) {
	ref := &model.ContractRef{Kind: kind, Chain: chain}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row contractRow
		err := tx.Where("kind = ? AND chain = ? AND address = ?", int(kind), uint64(chain), address).
			First(&row).Error
		if err == nil {
			ref.Address = hexToAddress(row.Address)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		insertErr := tx.Transaction(func(nested *gorm.DB) error {
			return nested.Create(&contractRow{Kind: int(kind), Chain: uint64(chain), Address: address}).Error
		})
		if insertErr == nil {
			ref.Address = hexToAddress(address)
			return nil
		}
		if !isDuplicateKeyError(insertErr) {
			return insertErr
		}
		// Lost the race to a concurrent insert - fall back to a second read.
		if err := tx.Where("kind = ? AND chain = ? AND address = ?", int(kind), uint64(chain), address).
			First(&row).Error; err != nil {
			return err
		}
		ref.Address = hexToAddress(row.Address)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique_violation")
}
