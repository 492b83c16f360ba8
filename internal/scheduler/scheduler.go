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

// Package scheduler executes named tasks with typed payloads, durable UUID
// task ids, per-task retry with bounded or unbounded attempts, and the two
// queues "transfers" and "bids". Task handlers are registered explicitly on
// the scheduler object at boot. Durability comes from the tasks table
// (store.TaskStore): a task enqueued before a crash is leased again by the
// next process.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"

	"github.com/pantos-io/servicenode/internal/log"
	"github.com/pantos-io/servicenode/internal/msgs"
	"github.com/pantos-io/servicenode/internal/store"
)

const (
	QueueTransfers = "transfers"
	QueueBids      = "bids"

	TaskExecuteTransfer = "execute_transfer"
	TaskConfirmTransfer = "confirm_transfer"
	TaskCalculateBids   = "calculate_bids"

	leaseBatch = 10
)

// TaskStore is the durable queue backing the scheduler, satisfied by
// *store.TaskStore and faked in tests.
type TaskStore interface {
	Enqueue(ctx context.Context, queue, name string, payload []byte, delay time.Duration, maxRetries int) (uuid.UUID, error)
	Lease(ctx context.Context, queue string, n int) ([]*store.Task, error)
	Retry(ctx context.Context, id uuid.UUID, countdown time.Duration) error
	Complete(ctx context.Context, id uuid.UUID) error
	PurgeQueue(ctx context.Context, queue string) error
}

// Result is what a handler reports back for a completed invocation. Done
// false with a nil error means "poll again after RetryIn" - the confirm
// task's not-complete-yet outcome, which still consumes a retry attempt.
type Result struct {
	Done    bool
	RetryIn time.Duration
}

// Handler executes one named task invocation. A non-nil error is a transient
// failure: the scheduler re-enqueues after the registration's retry interval,
// up to its attempt budget. Handlers never propagate errors beyond the
// scheduler loop.
type Handler func(ctx context.Context, payload []byte, attempt int) (Result, error)

type registration struct {
	queue         string
	maxRetries    int // <= 0 means unbounded
	retryInterval time.Duration
	handler       Handler
}

type Scheduler struct {
	tasks    TaskStore
	handlers map[string]*registration

	pollInterval time.Duration
	workers      int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Options struct {
	PollInterval time.Duration
	Workers      int
}

func New(tasks TaskStore, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 1 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Scheduler{
		tasks:        tasks,
		handlers:     map[string]*registration{},
		pollInterval: opts.PollInterval,
		workers:      opts.Workers,
	}
}

// Register binds a named task to its queue, retry policy, and handler. Must
// be called before Start; the handler map is not mutated afterwards.
func (s *Scheduler) Register(name, queue string, maxRetries int, retryInterval time.Duration, handler Handler) {
	s.handlers[name] = &registration{
		queue:         queue,
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		handler:       handler,
	}
}

// Enqueue schedules one invocation of a registered task after delay and
// returns its durable task id.
func (s *Scheduler) Enqueue(ctx context.Context, name string, payload any, delay time.Duration) (uuid.UUID, error) {
	reg, ok := s.handlers[name]
	if !ok {
		return uuid.Nil, i18n.NewError(ctx, msgs.MsgTaskUnknown, name)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	return s.tasks.Enqueue(ctx, reg.queue, name, data, delay, reg.maxRetries)
}

// Start purges the bids queue and launches the worker pool. Workers share
// the process-wide database pool, which is created once before any worker
// goroutine runs.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.tasks.PurgeQueue(ctx, QueueBids); err != nil {
		return err
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, queue := range []string{QueueTransfers, QueueBids} {
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker(log.WithLogField(ctx, "queue", queue), queue)
		}
	}
	return nil
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context, queue string) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx, queue)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, queue string) {
	for {
		tasks, err := s.tasks.Lease(ctx, queue, leaseBatch)
		if err != nil {
			log.L(ctx).Errorf("task lease failed: %s", err)
			return
		}
		if len(tasks) == 0 {
			return
		}
		for _, t := range tasks {
			s.run(ctx, t)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// run executes one leased task to its next durable state. Nothing a handler
// does - error or panic - escapes this function.
func (s *Scheduler) run(ctx context.Context, t *store.Task) {
	reg, ok := s.handlers[t.Name]
	if !ok {
		log.L(ctx).Errorf("dropping task %s: %s", t.ID, i18n.NewError(ctx, msgs.MsgTaskUnknown, t.Name))
		s.complete(ctx, t.ID)
		return
	}

	attempt := t.Attempts + 1
	res, err := s.invoke(ctx, reg, t.Payload, attempt)
	switch {
	case err != nil:
		if reg.maxRetries > 0 && attempt >= reg.maxRetries {
			log.L(ctx).Errorf("%s: last error: %s", i18n.NewError(ctx, msgs.MsgMaxRetriesHit, t.Name, reg.maxRetries), err)
			s.complete(ctx, t.ID)
			return
		}
		log.L(ctx).Warnf("task %s (%s) attempt %d failed, retrying in %s: %s", t.ID, t.Name, attempt, reg.retryInterval, err)
		s.retry(ctx, t.ID, reg.retryInterval)

	case !res.Done:
		countdown := res.RetryIn
		if countdown <= 0 {
			countdown = reg.retryInterval
		}
		if reg.maxRetries > 0 && attempt >= reg.maxRetries {
			log.L(ctx).Errorf("%s", i18n.NewError(ctx, msgs.MsgMaxRetriesHit, t.Name, reg.maxRetries))
			s.complete(ctx, t.ID)
			return
		}
		s.retry(ctx, t.ID, countdown)

	default:
		s.complete(ctx, t.ID)
	}
}

func (s *Scheduler) invoke(ctx context.Context, reg *registration, payload []byte, attempt int) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.L(ctx).Errorf("task handler panic: %v", r)
			err = i18n.NewError(ctx, msgs.MsgTaskUnknown, "panic")
		}
	}()
	return reg.handler(ctx, payload, attempt)
}

func (s *Scheduler) retry(ctx context.Context, id uuid.UUID, countdown time.Duration) {
	if err := s.tasks.Retry(ctx, id, countdown); err != nil {
		log.L(ctx).Errorf("unable to re-enqueue task %s: %s", id, err)
	}
}

func (s *Scheduler) complete(ctx context.Context, id uuid.UUID) {
	if err := s.tasks.Complete(ctx, id); err != nil {
		log.L(ctx).Errorf("unable to complete task %s: %s", id, err)
	}
}
