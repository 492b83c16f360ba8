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

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantos-io/servicenode/internal/model"
	"github.com/pantos-io/servicenode/internal/store"
)

// fakeTaskStore is an in-memory TaskStore: a map of task records with the
// same lease/retry/complete semantics the real tasks table provides.
type fakeTaskStore struct {
	mu     sync.Mutex
	tasks  map[uuid.UUID]*fakeTask
	purged []string
}

type fakeTask struct {
	store.Task
	notBefore time.Time
	locked    bool
	done      bool
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[uuid.UUID]*fakeTask{}}
}

func (f *fakeTaskStore) Enqueue(ctx context.Context, queue, name string, payload []byte, delay time.Duration, maxRetries int) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.tasks[id] = &fakeTask{
		Task:      store.Task{ID: id, Queue: queue, Name: name, Payload: payload, MaxRetries: maxRetries},
		notBefore: time.Now().Add(delay),
	}
	return id, nil
}

func (f *fakeTaskStore) Lease(ctx context.Context, queue string, n int) ([]*store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Task
	for _, t := range f.tasks {
		if len(out) >= n {
			break
		}
		if t.Queue == queue && !t.done && !t.locked && !t.notBefore.After(time.Now()) {
			t.locked = true
			cp := t.Task
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) Retry(ctx context.Context, id uuid.UUID, countdown time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.notBefore = time.Now().Add(countdown)
	t.locked = false
	t.Attempts++
	return nil
}

func (f *fakeTaskStore) Complete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	t.done = true
	t.locked = false
	return nil
}

func (f *fakeTaskStore) PurgeQueue(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, queue)
	for id, t := range f.tasks {
		if t.Queue == queue {
			delete(f.tasks, id)
		}
	}
	return nil
}

func (f *fakeTaskStore) task(id uuid.UUID) *fakeTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

func TestEnqueueUnknownTask(t *testing.T) {
	s := New(newFakeTaskStore(), Options{})
	_, err := s.Enqueue(context.Background(), "no_such_task", nil, 0)
	assert.Regexp(t, "PSN0500", err)
}

func TestRunCompletesTask(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})

	var gotPayload []byte
	s.Register("hello", QueueTransfers, 0, time.Second, func(ctx context.Context, payload []byte, attempt int) (Result, error) {
		gotPayload = payload
		return Result{Done: true}, nil
	})

	id, err := s.Enqueue(ctx, "hello", map[string]string{"k": "v"}, 0)
	require.NoError(t, err)

	s.drain(ctx, QueueTransfers)
	assert.JSONEq(t, `{"k":"v"}`, string(gotPayload))
	assert.True(t, ts.task(id).done)
}

func TestRunRetriesOnErrorUntilBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})

	calls := 0
	s.Register("flaky", QueueTransfers, 3, time.Nanosecond, func(ctx context.Context, payload []byte, attempt int) (Result, error) {
		calls++
		return Result{}, errors.New("nope")
	})

	id, err := s.Enqueue(ctx, "flaky", nil, 0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		time.Sleep(time.Millisecond)
		s.drain(ctx, QueueTransfers)
	}
	assert.Equal(t, 3, calls)
	assert.True(t, ts.task(id).done)
}

func TestRunUnboundedRetryNeverCompletes(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})

	calls := 0
	s.Register("forever", QueueTransfers, 0, 500*time.Microsecond, func(ctx context.Context, payload []byte, attempt int) (Result, error) {
		calls++
		return Result{}, errors.New("still failing")
	})

	id, err := s.Enqueue(ctx, "forever", nil, 0)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		s.drain(ctx, QueueTransfers)
	}
	assert.Equal(t, 10, calls)
	assert.False(t, ts.task(id).done)
}

func TestRunNotDoneReschedulesWithCountdown(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})

	s.Register("poll", QueueTransfers, 100, time.Second, func(ctx context.Context, payload []byte, attempt int) (Result, error) {
		return Result{Done: false, RetryIn: time.Hour}, nil
	})

	id, err := s.Enqueue(ctx, "poll", nil, 0)
	require.NoError(t, err)

	s.drain(ctx, QueueTransfers)
	task := ts.task(id)
	assert.False(t, task.done)
	assert.Equal(t, 1, task.Attempts)
	assert.Greater(t, time.Until(task.notBefore), 50*time.Minute)
}

func TestRunDropsUnknownLeasedTask(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})

	id, err := ts.Enqueue(ctx, QueueTransfers, "orphaned", nil, 0, 0)
	require.NoError(t, err)

	s.drain(ctx, QueueTransfers)
	assert.True(t, ts.task(id).done)
}

func TestRunRecoversFromHandlerPanic(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})

	s.Register("panicky", QueueTransfers, 2, time.Nanosecond, func(ctx context.Context, payload []byte, attempt int) (Result, error) {
		panic("boom")
	})

	id, err := s.Enqueue(ctx, "panicky", nil, 0)
	require.NoError(t, err)

	// The panic must be contained and consume the retry budget like an error.
	for i := 0; i < 4; i++ {
		time.Sleep(time.Millisecond)
		s.drain(ctx, QueueTransfers)
	}
	assert.True(t, ts.task(id).done)
}

func TestStartPurgesBidsQueue(t *testing.T) {
	ts := newFakeTaskStore()
	s := New(ts, Options{PollInterval: time.Hour})

	_, err := ts.Enqueue(context.Background(), QueueBids, TaskCalculateBids, nil, 0, 0)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	assert.Equal(t, []string{QueueBids}, ts.purged)
	assert.Empty(t, ts.tasks)
}

type fakeEngine struct {
	executed  []uuid.UUID
	confirmed []uuid.UUID
	execErr   error
	done      bool
	confErr   error
}

func (f *fakeEngine) Execute(ctx context.Context, internalID uuid.UUID) error {
	f.executed = append(f.executed, internalID)
	return f.execErr
}

func (f *fakeEngine) Confirm(ctx context.Context, internalID uuid.UUID) (bool, error) {
	f.confirmed = append(f.confirmed, internalID)
	return f.done, f.confErr
}

func TestTransferTasksRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})
	engine := &fakeEngine{done: true}
	RegisterTransferTasks(s, engine, TransferTaskConfig{
		ConfirmInterval:      30 * time.Second,
		ConfirmRetryInterval: time.Minute,
		ExecuteRetryInterval: time.Minute,
	})

	internalID := uuid.New()
	taskID, err := s.EnqueueExecuteTransfer(ctx, internalID, 0)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueConfirmTransfer(ctx, internalID, 0))

	s.drain(ctx, QueueTransfers)
	assert.Equal(t, []uuid.UUID{internalID}, engine.executed)
	assert.Equal(t, []uuid.UUID{internalID}, engine.confirmed)
	assert.True(t, ts.task(taskID).done)

	// The durable id returned from EnqueueExecuteTransfer is the one the
	// intake writes back as the public task id.
	var p TransferTaskPayload
	require.NoError(t, json.Unmarshal(ts.task(taskID).Payload, &p))
	assert.Equal(t, internalID, p.InternalID)
}

func TestConfirmNotDoneIsRescheduledWithInterval(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})
	engine := &fakeEngine{done: false}
	RegisterTransferTasks(s, engine, TransferTaskConfig{
		ConfirmInterval:      30 * time.Second,
		ConfirmRetryInterval: time.Minute,
		ExecuteRetryInterval: time.Minute,
	})

	internalID := uuid.New()
	require.NoError(t, s.EnqueueConfirmTransfer(ctx, internalID, 0))
	s.drain(ctx, QueueTransfers)

	var pending *fakeTask
	for _, task := range ts.tasks {
		pending = task
	}
	require.NotNil(t, pending)
	assert.False(t, pending.done)
	assert.Greater(t, time.Until(pending.notBefore), 20*time.Second)
}

type fakeTicker struct {
	ticks []model.ChainID
	delay time.Duration
}

func (f *fakeTicker) Tick(ctx context.Context, src model.ChainID) time.Duration {
	f.ticks = append(f.ticks, src)
	return f.delay
}

func TestBidTaskReschedulesItself(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	s := New(ts, Options{})
	ticker := &fakeTicker{delay: time.Hour}
	RegisterBidTask(s, ticker)

	require.NoError(t, s.EnqueueCalculateBids(ctx, model.ChainID(2)))
	s.drain(ctx, QueueBids)

	assert.Equal(t, []model.ChainID{2}, ticker.ticks)

	// The completed invocation must have re-enqueued a successor with the
	// plugin's delay.
	var successors int
	for _, task := range ts.tasks {
		if task.Name == TaskCalculateBids && !task.done {
			successors++
			assert.Greater(t, time.Until(task.notBefore), 50*time.Minute)
		}
	}
	assert.Equal(t, 1, successors)
}
