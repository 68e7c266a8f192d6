package app

import (
	"sync"
	"time"
)

// countdown delivers ticks until stopped. Each one carries the generation it
// was started with so the controller can drop ticks from a stopped countdown.
type countdown struct {
	stop chan struct{}
	once sync.Once
}

func startCountdown(interval time.Duration, gen uint64, tick func(gen uint64)) *countdown {
	cd := &countdown{stop: make(chan struct{})}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-cd.stop:
				return
			case <-t.C:
				tick(gen)
			}
		}
	}()
	return cd
}

func (cd *countdown) Stop() {
	if cd == nil {
		return
	}
	cd.once.Do(func() { close(cd.stop) })
}
