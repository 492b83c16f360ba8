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

	"gorm.io/gorm"

	"github.com/pantos-io/servicenode/internal/model"
)

type BidStore struct {
	db *gorm.DB
}

// ReplaceBids atomically replaces the full bid set for (src,dst): after
// the call, the rows for the pair equal exactly the new set.
func (s *BidStore) ReplaceBids(ctx context.Context, src, dst model.ChainID, bids []*model.Bid) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_chain = ? AND destination_chain = ?", uint64(src), uint64(dst)).
			Delete(&bidRow{}).Error; err != nil {
			return err
		}
		if len(bids) == 0 {
			return nil
		}
		rows := make([]*bidRow, len(bids))
		for i, b := range bids {
			rows[i] = bidFromModel(b)
		}
		return tx.Create(rows).Error
	})
}

func (s *BidStore) Find(ctx context.Context, src, dst model.ChainID) ([]*model.Bid, error) {
	var rows []bidRow
	err := s.db.WithContext(ctx).
		Where("source_chain = ? AND destination_chain = ?", uint64(src), uint64(dst)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Bid, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}
