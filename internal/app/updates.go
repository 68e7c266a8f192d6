package app

// Updates is a Presenter that hands snapshots and alerts to one consumer
// goroutine. A slow consumer only sees the latest snapshot; alerts queue up
// to the buffer size and the oldest is dropped beyond it.
type Updates struct {
	snapshots chan Snapshot
	alerts    chan Alert
}

func NewUpdates() *Updates {
	return &Updates{
		snapshots: make(chan Snapshot, 1),
		alerts:    make(chan Alert, 8),
	}
}

func (u *Updates) Snapshots() <-chan Snapshot { return u.snapshots }

func (u *Updates) Alerts() <-chan Alert { return u.alerts }

func (u *Updates) Render(s Snapshot) {
	offerLatest(u.snapshots, s)
}

func (u *Updates) Alert(a Alert) {
	offerLatest(u.alerts, a)
}

func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
