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
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pantos-io/servicenode/internal/msgs"
)

// Config mirrors the database.* configuration keys.
type Config struct {
	URL             string
	PoolSize        int
	MaxOverflow     int
	Echo            bool
	ApplyMigrations bool
}

// Store is the single persistence handle shared by TransferStore, BidStore,
// the contract registry, and the durable task queue - one *gorm.DB per
// process.
type Store struct {
	db *gorm.DB
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	gormLogLevel := logger.Silent
	if cfg.Echo {
		gormLogLevel = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgDatabaseConnectFailed, err.Error())
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgDatabaseConnectFailed, err.Error())
	}
	if cfg.PoolSize > 0 {
		sqlDB.SetMaxIdleConns(cfg.PoolSize)
	}
	if cfg.PoolSize > 0 || cfg.MaxOverflow > 0 {
		sqlDB.SetMaxOpenConns(cfg.PoolSize + cfg.MaxOverflow)
	}
	s := &Store{db: db}
	if cfg.ApplyMigrations {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an already-open *gorm.DB - used by tests with sqlite or an
// in-memory driver.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema. Exposed for tests running against
// an in-memory database via NewWithDB.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&transferRow{}, &bidRow{}, &contractRow{}, &taskRow{}); err != nil {
		return err
	}
	// The (source_chain, blockchain_nonce, status) uniqueness must be
	// DEFERRABLE so the allocator's steal-and-reassign update commits as one
	// unit. gorm tags cannot express deferrable constraints, and sqlite
	// (tests) supports neither ADD CONSTRAINT nor deferral, so this is raw
	// postgres DDL.
	if s.db.Dialector.Name() == "postgres" {
		err := s.db.Exec(
			`ALTER TABLE transfers ADD CONSTRAINT uq_transfers_chain_nonce_status ` +
				`UNIQUE (source_chain, blockchain_nonce, status) DEFERRABLE INITIALLY DEFERRED`).Error
		if err != nil && !isDuplicateObjectError(err) {
			return err
		}
	}
	return nil
}

func isDuplicateObjectError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Transfers() *TransferStore { return &TransferStore{db: s.db} }
func (s *Store) Bids() *BidStore           { return &BidStore{db: s.db} }
func (s *Store) Contracts() *ContractRegistry { return &ContractRegistry{db: s.db} }
func (s *Store) Tasks() *TaskStore         { return &TaskStore{db: s.db} }
