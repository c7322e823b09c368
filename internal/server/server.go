package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/zbysir/vscheduler"
	"github.com/zbysir/vscheduler/internal/history"
)

type Options struct {
	Scheduler *vscheduler.Scheduler
	// History, Counter and Metrics are optional; their routes answer 404 when nil.
	History *history.Store
	Counter vscheduler.Counter
	Metrics http.Handler
	// RunOnRequest sweeps after every api request, for deployments without a ticker.
	RunOnRequest bool
	Logger       zerolog.Logger
	Now          func() time.Time
}

type Server struct {
	opt Options
	log zerolog.Logger
	now func() time.Time
}

func New(opt Options) *Server {
	now := opt.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		opt: opt,
		log: opt.Logger.With().Str("component", "http").Logger(),
		now: now,
	}
}

type scheduleRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	MethodName string `json:"method_name" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	// Delay is a Go duration ("90s", "5m"); At is a unix timestamp and wins when set.
	Delay string `json:"delay"`
	At    int64  `json:"at"`
}

type entryResponse struct {
	Key   string           `json:"key"`
	Score int64            `json:"score"`
	Task  *vscheduler.Task `json:"task,omitempty"`
	Error string           `json:"error,omitempty"`
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	if s.opt.RunOnRequest {
		api.Use(RunOnRequest(s.opt.Scheduler, s.now, s.log))
	}

	api.POST("/sweep", func(c *gin.Context) {
		sweep, err := s.opt.Scheduler.Run(c.Request.Context(), s.now())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, vscheduler.ErrLockLost) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"message": err.Error(), "sweep": sweep})
			return
		}
		c.JSON(http.StatusOK, sweep)
	})

	api.GET("/tasks", func(c *gin.Context) {
		entries, err := s.opt.Scheduler.Pending(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
			return
		}

		rsp := make([]entryResponse, 0, len(entries))
		for _, e := range entries {
			er := entryResponse{Key: e.Key, Score: e.Score}
			if e.Err != nil {
				er.Error = e.Err.Error()
			} else {
				t := e.Task
				er.Task = &t
			}
			rsp = append(rsp, er)
		}
		c.JSON(http.StatusOK, rsp)
	})

	api.POST("/tasks", func(c *gin.Context) {
		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}

		at := s.now()
		if req.At != 0 {
			at = time.Unix(req.At, 0)
		} else if req.Delay != "" {
			d, err := time.ParseDuration(req.Delay)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
				return
			}
			at = at.Add(d)
		}

		t, err := s.opt.Scheduler.ScheduleAt(c.Request.Context(), at, req.TargetType, req.MethodName, req.TargetID)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, vscheduler.ErrInvalidField) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"key": t.Key(), "task": t})
	})

	api.GET("/history", func(c *gin.Context) {
		if s.opt.History == nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "history is disabled"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))
		rs, err := s.opt.History.List(c.Request.Context(), history.Filter{
			TargetType: c.Query("target_type"),
			TargetID:   c.Query("target_id"),
			Outcome:    c.Query("outcome"),
			Limit:      limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rs)
	})

	api.GET("/stats", func(c *gin.Context) {
		ctx := c.Request.Context()
		rsp := gin.H{}

		at, owner, held, err := s.opt.Scheduler.LockHolder(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
			return
		}
		lock := gin.H{"held": held}
		if held {
			lock["at"] = at.Unix()
			lock["owner"] = owner
		}
		rsp["lock"] = lock

		if s.opt.Counter != nil {
			count, err := s.opt.Counter.GetCount(ctx)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"message": err.Error()})
				return
			}
			rsp["count"] = count
		}
		c.JSON(http.StatusOK, rsp)
	})

	if s.opt.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opt.Metrics))
	}

	return r
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// RunOnRequest calls Run once the request has been handled. Run errors are logged, never returned to the client.
func RunOnRequest(sched *vscheduler.Scheduler, now func() time.Time, log zerolog.Logger) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		c.Next()

		ctx := context.WithoutCancel(c.Request.Context())
		if _, err := sched.Run(ctx, now()); err != nil {
			log.Error().Err(err).Str("path", c.FullPath()).Msg("run on request")
		}
	}
}
