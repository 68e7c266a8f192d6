//go:build unix

package terminal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// watchSuspend maps Ctrl-Z and fg to the page becoming hidden and visible.
func watchSuspend(ctx context.Context, screen *Screen, visibility func(hidden bool)) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTSTP, syscall.SIGCONT)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case sig := <-sigs:
				switch sig {
				case syscall.SIGTSTP:
					visibility(true)
					screen.suspend()
					_ = syscall.Kill(os.Getpid(), syscall.SIGSTOP)
				case syscall.SIGCONT:
					screen.resume()
					visibility(false)
				}
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(stop)
		<-done
	}
}
