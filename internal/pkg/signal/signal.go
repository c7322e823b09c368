package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NewContext is cancelled on the first SIGINT or SIGTERM; a second one exits the process.
func NewContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
			signal.Stop(c)
			return
		}
		<-c
		os.Exit(1)
	}()

	return ctx, cancel
}
