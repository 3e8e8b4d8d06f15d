// Package commandqueue serializes chat work per conversation. Each
// session gets its own lane with concurrency 1, so two requests for
// the same session never interleave their cart writes, while distinct
// sessions run in parallel.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/averno/clerk/internal/observability"
	"github.com/averno/clerk/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Task is a unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState tracks the queue and running count for one lane.
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based task serialization.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty queue. Lanes are created on first use.
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SessionLane names the lane serializing one session's requests.
func SessionLane(sessionID string) string {
	return "session-" + sessionID
}

// Enqueue adds a task to a lane and blocks until it completes.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"clerk.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	ls := cq.ensureLane(lane)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	go cq.processLane(lane)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (cq *CommandQueue) ensureLane(lane string) *laneState {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if exists {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, exists = cq.lanes[lane]; !exists {
		ls = &laneState{concurrency: 1}
		cq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Msg("Lane initialized")
	}
	return ls
}

// processLane dispatches queued tasks while the lane has capacity.
func (cq *CommandQueue) processLane(lane string) {
	cq.mu.RLock()
	ls := cq.lanes[lane]
	cq.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"clerk.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go cq.processLane(lane)
}

// QueueSize returns the number of queued tasks for a lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// RunningCount returns the number of executing tasks for a lane.
func (cq *CommandQueue) RunningCount(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns queued and running counts for every lane.
func (cq *CommandQueue) Stats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": ls.running,
		}
		ls.mu.Unlock()
	}
	return stats
}

// WaitForActive blocks until every lane drains or the timeout passes.
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		drained := true
		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if ls.running > 0 || len(ls.queue) > 0 {
				drained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running task contexts and waits for them to finish.
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.wg.Wait()
	return nil
}
