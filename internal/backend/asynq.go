package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// TypeInvoke is the asynq task type every scheduled invocation is enqueued with.
const TypeInvoke = "vscheduler:invoke"

const DefaultQueue = "vscheduler"

type Payload struct {
	TargetType string `json:"target_type"`
	MethodName string `json:"method_name"`
	TargetID   string `json:"target_id"`
}

// RawRedisClient lets asynq share an existing go-redis client instead of dialing its own.
type RawRedisClient struct {
	c redis.UniversalClient
}

func (r *RawRedisClient) MakeRedisClient() interface{} {
	return r.c
}

// Asynq hands due tasks to an asynq queue. It implements vscheduler.Backend.
type Asynq struct {
	cli   *asynq.Client
	queue string
	opts  []asynq.Option
}

// NewAsynq returns a backend enqueueing onto queue; extra opts (MaxRetry, Timeout...) apply to every task.
func NewAsynq(redisCli redis.UniversalClient, queue string, opts ...asynq.Option) *Asynq {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Asynq{
		cli:   asynq.NewClient(&RawRedisClient{redisCli}),
		queue: queue,
		opts:  opts,
	}
}

func NewTask(targetType, methodName, targetID string) (*asynq.Task, error) {
	bs, err := json.Marshal(Payload{TargetType: targetType, MethodName: methodName, TargetID: targetID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInvoke, bs), nil
}

func (a *Asynq) Enqueue(ctx context.Context, targetType, methodName, targetID string) error {
	task, err := NewTask(targetType, methodName, targetID)
	if err != nil {
		return err
	}

	opts := append([]asynq.Option{asynq.Queue(a.queue)}, a.opts...)
	_, err = a.cli.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("asynq enqueue: %w", err)
	}
	return nil
}

func (a *Asynq) Close() error {
	return a.cli.Close()
}
