package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zbysir/vscheduler"
	"github.com/zbysir/vscheduler/internal/backend"
	"github.com/zbysir/vscheduler/internal/cadence"
	"github.com/zbysir/vscheduler/internal/logging"
	"github.com/zbysir/vscheduler/internal/pkg/signal"
	"github.com/zbysir/vscheduler/internal/store"
)

// An unpaid order is closed 3s after it was placed, its buyer gets a welcome mail after 1s.
// Everything runs in one process on the in-memory store; swap in RedisClient and backend.NewAsynq to distribute it.
func main() {
	logger := logging.Setup(logging.Config{Level: "info", Console: true}, nil)
	ctx, cancel := signal.NewContext()
	defer cancel()

	worker := backend.NewWorker(nil, "", 0, logger)
	worker.Register("User", backend.Methods(map[string]func(ctx context.Context, targetID string) error{
		"sendWelcome": func(ctx context.Context, targetID string) error {
			log.Info().Str("user", targetID).Msg("welcome mail sent")
			return nil
		},
	}))
	worker.Register("Order", backend.Methods(map[string]func(ctx context.Context, targetID string) error{
		"closeUnpaid": func(ctx context.Context, targetID string) error {
			log.Info().Str("order", targetID).Msg("order closed")
			cancel()
			return nil
		},
	}))

	// hand tasks straight to the worker instead of a queue
	inProcess := vscheduler.BackendFunc(func(ctx context.Context, targetType, methodName, targetID string) error {
		task, err := backend.NewTask(targetType, methodName, targetID)
		if err != nil {
			return err
		}
		return worker.ProcessTask(ctx, task)
	})

	sched, err := vscheduler.New(vscheduler.Options{
		Config:  vscheduler.DefaultConfig(),
		Store:   store.NewMockStore(),
		Backend: inProcess,
		Logger:  &logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("new scheduler")
	}

	if _, err := sched.Schedule(ctx, time.Second, "User", "sendWelcome", "123"); err != nil {
		log.Fatal().Err(err).Msg("schedule")
	}
	if _, err := sched.Schedule(ctx, 3*time.Second, "Order", "closeUnpaid", "42"); err != nil {
		log.Fatal().Err(err).Msg("schedule")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cadence.New(sched, time.Second, zerolog.Nop()).Start(ctx)
	}()

	wg.Wait()
}
