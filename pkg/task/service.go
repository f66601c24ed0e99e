package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

// Enqueuer is the narrow enqueue-only view of the asynq client handed to
// services, so tests can swap in a recorder without a redis connection.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuer{client: client}
}

func (e *enqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(context.Background(), task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s task: %w", task.Type(), err)
	}
	return info, nil
}
