// internal/reconciler/queue.go
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"summarybot/internal/common/logger"
)

// Task wraps a lifecycle event with its delivery bookkeeping while it moves
// through the work queue.
type Task struct {
	Event      LifecycleEvent `json:"event"`
	Attempts   int            `json:"attempts"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Queue is a Redis list the webhook handler pushes accepted events onto and
// the reconciler loop pops from. Events that exhaust their retries move to the
// dead-letter list for manual inspection.
type Queue struct {
	rdb    *redis.Client
	key    string
	logger logger.Logger
}

func NewQueue(rdb *redis.Client, key string, log logger.Logger) *Queue {
	if key == "" {
		key = "billing:events"
	}
	return &Queue{
		rdb:    rdb,
		key:    key,
		logger: log.WithFields(map[string]interface{}{"component": "billing-queue"}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, task *Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.key, body).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Event.EventID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. Returns nil, nil when the
// wait elapsed with nothing queued.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		q.logger.Error("dropping undecodable task", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}
	return &task, nil
}

func (q *Queue) DeadLetter(ctx context.Context, task *Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, q.key+":dead", body).Err(); err != nil {
		return fmt.Errorf("dead-letter %s: %w", task.Event.EventID, err)
	}
	q.logger.Warn("task moved to dead letter", map[string]interface{}{
		"eventId":  task.Event.EventID,
		"attempts": task.Attempts,
	})
	return nil
}

// Depth returns the number of tasks waiting. Used by health reporting.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
