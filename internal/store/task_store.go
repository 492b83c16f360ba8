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
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskStore backs internal/scheduler's durable task queue:
// enqueue returns a UUID that survives process restarts, and workers lease
// rows with SKIP LOCKED-style semantics so multiple worker processes never
// pick up the same task twice.
type TaskStore struct {
	db *gorm.DB
}

type Task struct {
	ID         uuid.UUID
	Queue      string
	Name       string
	Payload    []byte
	NotBefore  time.Time
	Attempts   int
	MaxRetries int
}

func (s *TaskStore) Enqueue(ctx context.Context, queue, name string, payload []byte, delay time.Duration, maxRetries int) (uuid.UUID, error) {
	id := uuid.New()
	row := &taskRow{
		ID:         id,
		Queue:      queue,
		Name:       name,
		Payload:    payload,
		NotBefore:  time.Now().Add(delay),
		MaxRetries: maxRetries,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Lease atomically claims up to n ready, unlocked tasks from queue and marks
// them locked. On postgres the candidate rows are selected FOR UPDATE SKIP
// LOCKED so concurrent worker processes never lease the same task twice; on
// sqlite (tests) the clause is unsupported and unnecessary, since its
// transactions take a global write lock.
func (s *TaskStore) Lease(ctx context.Context, queue string, n int) ([]*Task, error) {
	var rows []taskRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("queue = ? AND done = ? AND locked = ? AND not_before <= ?", queue, false, false, time.Now()).
			Order("not_before ASC").
			Limit(n)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			if err := tx.Model(&taskRow{}).Where("id = ?", r.ID).Update("locked", true).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Task, len(rows))
	for i, r := range rows {
		out[i] = &Task{ID: r.ID, Queue: r.Queue, Name: r.Name, Payload: r.Payload, NotBefore: r.NotBefore, Attempts: r.Attempts, MaxRetries: r.MaxRetries}
	}
	return out, nil
}

// Retry re-enqueues the task after countdown and unlocks it, incrementing
// the attempt counter.
func (s *TaskStore) Retry(ctx context.Context, id uuid.UUID, countdown time.Duration) error {
	return s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", id).
		Updates(map[string]any{
			"not_before": time.Now().Add(countdown),
			"locked":     false,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

func (s *TaskStore) Complete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", id).
		Updates(map[string]any{"done": true, "locked": false}).Error
}

func (s *TaskStore) Unlock(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", id).Update("locked", false).Error
}

// PurgeQueue deletes all tasks in a queue - used at broker startup for the
// "bids" queue.
func (s *TaskStore) PurgeQueue(ctx context.Context, queue string) error {
	return s.db.WithContext(ctx).Where("queue = ?", queue).Delete(&taskRow{}).Error
}
