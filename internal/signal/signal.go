package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchInterrupt cancels the returned context on SIGINT/SIGTERM so an
// in-flight run can escalate to destroy-on-exit instead of leaking a billed
// instance. A second grace period later the process is killed outright.
func WatchInterrupt(ctx context.Context, forceShutdownDelay time.Duration) context.Context {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		<-sigs
		log.Warnf("interrupt received, cancelling run and tearing down (forced exit in %s)", forceShutdownDelay)
		cancel()
		timer := time.NewTimer(forceShutdownDelay)
		<-timer.C
		log.Warnf("teardown still running after %s, exiting immediately", forceShutdownDelay)
		os.Exit(1)
	}()

	return ctx
}
