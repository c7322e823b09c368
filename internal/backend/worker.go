package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrTargetNotFound is returned by an Invocable whose target no longer exists. The task is then finished, not retried.
var ErrTargetNotFound = errors.New("target not found")

// Invocable runs a named method on one instance of a target type.
type Invocable interface {
	Invoke(ctx context.Context, methodName string, targetID string) error
}

type InvocableFunc func(ctx context.Context, methodName string, targetID string) error

func (f InvocableFunc) Invoke(ctx context.Context, methodName string, targetID string) error {
	return f(ctx, methodName, targetID)
}

// Methods builds an Invocable from per-method handlers; unknown methods fail without retry.
func Methods(m map[string]func(ctx context.Context, targetID string) error) Invocable {
	return InvocableFunc(func(ctx context.Context, methodName string, targetID string) error {
		h, ok := m[methodName]
		if !ok {
			return fmt.Errorf("unknown method %q: %w", methodName, asynq.SkipRetry)
		}
		return h(ctx, targetID)
	})
}

// Worker consumes the queue Asynq writes to and invokes the registered targets.
type Worker struct {
	redisCli    redis.UniversalClient
	queue       string
	concurrency int
	log         zerolog.Logger

	targets map[string]Invocable
	lock    sync.RWMutex
}

func NewWorker(redisCli redis.UniversalClient, queue string, concurrency int, log zerolog.Logger) *Worker {
	if queue == "" {
		queue = DefaultQueue
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Worker{
		redisCli:    redisCli,
		queue:       queue,
		concurrency: concurrency,
		log:         log.With().Str("component", "worker").Logger(),
		targets:     map[string]Invocable{},
	}
}

func (w *Worker) Register(targetType string, target Invocable) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.targets[targetType] = target
}

func (w *Worker) target(targetType string) (Invocable, bool) {
	w.lock.RLock()
	defer w.lock.RUnlock()
	t, ok := w.targets[targetType]
	return t, ok
}

// ProcessTask implements asynq.Handler.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	target, ok := w.target(p.TargetType)
	if !ok {
		return fmt.Errorf("no target registered for %q: %w", p.TargetType, asynq.SkipRetry)
	}

	err := target.Invoke(ctx, p.MethodName, p.TargetID)
	if errors.Is(err, ErrTargetNotFound) {
		w.log.Info().Str("type", p.TargetType).Str("id", p.TargetID).Str("method", p.MethodName).Msg("target gone, skip")
		return nil
	}
	if err != nil {
		return err
	}

	w.log.Debug().Str("type", p.TargetType).Str("id", p.TargetID).Str("method", p.MethodName).Msg("invoked")
	return nil
}

// Start serves until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.Handle(TypeInvoke, w)

	srv := asynq.NewServer(
		&RawRedisClient{w.redisCli},
		asynq.Config{
			Concurrency: w.concurrency,
			Queues:      map[string]int{w.queue: 1},
		},
	)
	if err := srv.Start(mux); err != nil {
		return err
	}

	<-ctx.Done()
	srv.Shutdown()
	return nil
}
