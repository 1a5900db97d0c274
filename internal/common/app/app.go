package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/indexab/internal/common/indexabcontext"
)

// CreateContextWithShutdown returns a context that is cancelled on SIGINT or SIGTERM.
// Work that must finish regardless, such as releasing environments, runs on a context detached from this one.
func CreateContextWithShutdown() *indexabcontext.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			log.Infof("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return indexabcontext.New(ctx, log.NewEntry(log.StandardLogger()))
}
