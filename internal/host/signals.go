package host

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/interpreter"
	"github.com/LiboWorks/screenflow/internal/notify"
)

// StopSubject is the notification subject sent on an emergency stop.
const StopSubject = "screenflow: emergency stop"

// WatchSignals maps process signals onto ctl until the returned function is
// called: stop signals stop the run and send a notification, pause signals
// toggle pause.
func WatchSignals(ctx context.Context, ctl *interpreter.Control, notifier notify.Notifier, logger *zap.Logger) func() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, append(slices.Clone(stopSignals), pauseSignals...)...)
	stop := watch(ctx, ch, ctl, notifier, logger)
	return func() {
		signal.Stop(ch)
		stop()
	}
}

func watch(ctx context.Context, ch <-chan os.Signal, ctl *interpreter.Control, notifier notify.Notifier, logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger = logger.Named("signals")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-ch:
				switch {
				case slices.Contains(stopSignals, sig):
					logger.Warn("Emergency stop requested", zap.String("signal", sig.String()))
					ctl.Stop("received " + sig.String())
					if err := notifier.Notify(ctx, StopSubject, "Run stopped by "+sig.String()); err != nil {
						logger.Warn("Notification failed", zap.Error(err))
					}
				case slices.Contains(pauseSignals, sig):
					if ctl.Toggle() {
						logger.Info("Paused", zap.String("signal", sig.String()))
					} else {
						logger.Info("Resumed", zap.String("signal", sig.String()))
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}
