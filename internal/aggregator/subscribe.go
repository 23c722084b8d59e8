package aggregator

import (
	"context"

	"go.uber.org/zap"
)

// Subscribe returns a channel that receives a Snapshot after every change
// to the result set or the refresh flag. A slow reader only ever sees the
// latest snapshot. Call cancel to stop receiving; the channel is closed.
func (a *Aggregator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	a.subMu.Lock()
	a.subs[ch] = struct{}{}
	a.subMu.Unlock()

	cancel := func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if _, ok := a.subs[ch]; ok {
			delete(a.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (a *Aggregator) publish() {
	snap, err := a.Snapshot(context.Background())
	if err != nil {
		a.logger.Warn("publish_snapshot_error", zap.Error(err))
		return
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()
	for ch := range a.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
