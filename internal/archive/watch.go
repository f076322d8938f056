package archive

import (
	"context"
	"log"

	"github.com/m-lab/wehe-archiver/internal/metrics"
	"github.com/m-lab/wehe-archiver/internal/watchdir"
)

// WatchDirClient is the source of staging file notifications.
type WatchDirClient interface {
	WatchChan() <-chan watchdir.WatchEvent
}

// WatchAndMove moves every staging file wd notifies about to the
// archive.  Failures are logged and the loop carries on.  It returns
// when ctx is canceled or the watch channel is closed.
func (m *Mover) WatchAndMove(ctx context.Context, wd WatchDirClient) error {
	watchChan := wd.WatchChan()
	for {
		select {
		case <-ctx.Done():
			verbose("'watch and move' context canceled for %v", m.conf.TmpResultsDir)
			return nil
		case we, chOpen := <-watchChan:
			if !chOpen {
				verbose("watch channel closed")
				return nil
			}
			m.moveEvent(we)
		}
	}
}

func (m *Mover) moveEvent(we watchdir.WatchEvent) {
	dt, id, err := m.ParseStagingPath(we.Path)
	if err != nil {
		metrics.WatchEventsTotal.WithLabelValues("ignored").Inc()
		verbose("ignoring %v: %v", we.Path, err)
		return
	}
	file, err := m.Move(dt, id)
	if err != nil {
		metrics.WatchEventsTotal.WithLabelValues("failed").Inc()
		log.Printf("ERROR: failed to move %v: %v\n", we.Path, err)
		return
	}
	if we.Missed {
		metrics.WatchEventsTotal.WithLabelValues("missed").Inc()
		log.Printf("WARNING: %v was missed by the watcher, archived as %v\n", we.Path, file)
		return
	}
	metrics.WatchEventsTotal.WithLabelValues("moved").Inc()
}
