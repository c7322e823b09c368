package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zbysir/vscheduler"
	"github.com/zbysir/vscheduler/internal/backend"
	"github.com/zbysir/vscheduler/internal/cadence"
	"github.com/zbysir/vscheduler/internal/history"
	"github.com/zbysir/vscheduler/internal/logging"
	"github.com/zbysir/vscheduler/internal/metrics"
	"github.com/zbysir/vscheduler/internal/pkg/signal"
	"github.com/zbysir/vscheduler/internal/server"
	"github.com/zbysir/vscheduler/internal/store"
)

const defaultConfigFile = "vscheduler.yaml"

type app struct {
	configFile string
	cfg        Config
	log        zerolog.Logger
}

func BuildCLI() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "vscheduler",
		Short:         "Delayed method invocation on top of redis and asynq",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			required := cmd.Flags().Changed("config")
			cfg, err := loadConfig(a.configFile, required)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.Setup(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", defaultConfigFile, "config file path")

	rootCmd.AddCommand(a.runCommand())
	rootCmd.AddCommand(a.scheduleCommand())
	rootCmd.AddCommand(a.sweepCommand())
	rootCmd.AddCommand(a.pendingCommand())
	rootCmd.AddCommand(a.workerCommand())
	rootCmd.AddCommand(a.pruneCommand())

	return rootCmd
}

func (a *app) connect(ctx context.Context) (redis.UniversalClient, error) {
	return store.Connect(ctx, a.cfg.Redis.URL, a.cfg.Redis.ConnectTimeout)
}

type components struct {
	client    redis.UniversalClient
	scheduler *vscheduler.Scheduler
	history   *history.Store
	collector *metrics.Collector
	counter   vscheduler.Counter
	closers   []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func (a *app) build(ctx context.Context) (*components, error) {
	client, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	c := &components{client: client}

	q := backend.NewAsynq(client, a.cfg.Backend.Queue, asynq.MaxRetry(a.cfg.Backend.MaxRetry))
	// closing the asynq client closes the shared redis client too
	c.closers = append(c.closers, q)

	var journal vscheduler.Journal
	if a.cfg.History.Enabled {
		h, err := history.Open(a.cfg.History.DSN)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.history = h
		c.closers = append(c.closers, h)
		journal = h
	}

	redisMeasure := vscheduler.NewRedisMeasure(client, a.cfg.Scheduler)
	c.counter = redisMeasure
	c.collector = metrics.NewCollector(prometheus.NewRegistry())

	sched, err := vscheduler.New(vscheduler.Options{
		Config:      a.cfg.Scheduler,
		RedisClient: client,
		Backend:     q,
		Measure:     vscheduler.Measures(redisMeasure, c.collector),
		Journal:     journal,
		Logger:      &a.log,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.scheduler = sched
	return c, nil
}

func (a *app) runCommand() *cobra.Command {
	var withWorker bool
	var echoTypes []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep on a fixed cadence and serve the http api",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NewContext()
			defer cancel()

			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			srv := server.New(server.Options{
				Scheduler:    c.scheduler,
				History:      c.history,
				Counter:      c.counter,
				Metrics:      c.collector.Handler(),
				RunOnRequest: a.cfg.HTTP.RunOnRequest,
				Logger:       a.log,
			})

			ticker := cadence.New(c.scheduler, a.cfg.Scheduler.Interval, a.log)
			if c.history != nil && a.cfg.History.Retention > 0 && a.cfg.History.PruneEvery > 0 {
				ticker.Add("prune history", a.cfg.History.PruneEvery, func(ctx context.Context) error {
					_, err := pruneHistory(ctx, c.history, a.cfg.History.Retention, time.Now(), a.log)
					return err
				})
			}

			var starts []func(context.Context) error
			starts = append(starts,
				ticker.Start,
				func(ctx context.Context) error { return srv.Start(ctx, a.cfg.HTTP.Addr) },
			)
			if withWorker {
				starts = append(starts, a.newWorker(c.client, echoTypes).Start)
			}
			return runAll(ctx, cancel, starts...)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "also consume the backend queue in this process")
	cmd.Flags().StringSliceVar(&echoTypes, "echo", nil, "target types the worker logs instead of invoking")
	return cmd
}

// runAll starts every fn and returns the first error; one failing cancels the others.
func runAll(ctx context.Context, cancel context.CancelFunc, fns ...func(context.Context) error) error {
	var wg sync.WaitGroup
	var once sync.Once
	var first error

	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				once.Do(func() { first = err })
				cancel()
			}
		}(fn)
	}
	wg.Wait()
	return first
}

func (a *app) scheduleCommand() *cobra.Command {
	var delay time.Duration
	var at int64

	cmd := &cobra.Command{
		Use:   "schedule TARGET_TYPE METHOD TARGET_ID",
		Short: "Schedule one delayed invocation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			when := time.Now().Add(delay)
			if at != 0 {
				when = time.Unix(at, 0)
			}
			t, err := c.scheduler.ScheduleAt(ctx, when, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Key())
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "run after this long")
	cmd.Flags().Int64Var(&at, "at", 0, "run at this unix time, wins over --delay")
	return cmd
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run once: dispatch due tasks if the gate and the lock allow it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			sweep, err := c.scheduler.Run(ctx, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sweep)
		},
	}
}

func (a *app) pendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List stored tasks, earliest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.scheduler.Pending(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range entries {
				if e.Err != nil {
					fmt.Fprintf(w, "%s\tmalformed: %v\n", e.Key, e.Err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", time.Unix(e.Task.DueAt, 0).Format(time.RFC3339), e.Key)
			}
			return nil
		},
	}
}

func (a *app) workerCommand() *cobra.Command {
	var echoTypes []string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the backend queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NewContext()
			defer cancel()

			client, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			return a.newWorker(client, echoTypes).Start(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&echoTypes, "echo", nil, "target types the worker logs instead of invoking")
	return cmd
}

// newWorker registers an Invocable per echo type that only logs. Applications embed backend.Worker
// and register their own targets instead.
func (a *app) newWorker(client redis.UniversalClient, echoTypes []string) *backend.Worker {
	w := backend.NewWorker(client, a.cfg.Backend.Queue, a.cfg.Backend.Concurrency, a.log)
	for _, typ := range echoTypes {
		typ := typ
		w.Register(typ, backend.InvocableFunc(func(ctx context.Context, methodName, targetID string) error {
			a.log.Info().Str("type", typ).Str("method", methodName).Str("id", targetID).Msg("invoke")
			return nil
		}))
	}
	return w
}

func (a *app) pruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete dispatch history older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = a.cfg.History.Retention
			}
			if olderThan <= 0 {
				return fmt.Errorf("nothing to prune: retention is %v", olderThan)
			}

			h, err := history.Open(a.cfg.History.DSN)
			if err != nil {
				return err
			}
			defer h.Close()

			n, err := pruneHistory(cmd.Context(), h, olderThan, time.Now(), a.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d records deleted\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete records older than this, defaults to history.retention")
	return cmd
}

func pruneHistory(ctx context.Context, h *history.Store, retention time.Duration, now time.Time, log zerolog.Logger) (int64, error) {
	n, err := h.Prune(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Dur("retention", retention).Msg("history pruned")
	}
	return n, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
