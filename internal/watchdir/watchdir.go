// Package watchdir watches a directory tree and sends notifications to
// its client when it notices a new or rewritten file.
//
// Notifications come from inotify events and, for files whose events
// were missed (e.g. because they were written into a directory before
// the directory itself was watched), from periodic scans of the tree.
// Each scan covers the modification time window since the previous scan,
// so the set of files it remembers stays bounded.
package watchdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

// WatchEvent is the message that is passed through the watch channel.
type WatchEvent struct {
	Path   string // file pathname
	Missed bool   // true if the file was found by a scan
}

// WatchDir defines the directory (and all its subdirectories) to watch.
type WatchDir struct {
	watchDir        string               // directory to watch
	watchExtensions map[string]struct{}  // filename extensions to watch (empty means everything)
	watchEvents     []notify.Event       // events to watch for
	watchChan       chan WatchEvent      // channel to send watch events through
	missedAge       time.Duration        // a file's minimum age before it's considered missed
	missedInterval  time.Duration        // interval for scanning the tree for missed files
	scanStart       time.Time            // start of the next scan window
	notified        map[string]time.Time // modification time of notified files
	notifiedLock    sync.Mutex           // lock for notified
}

const (
	// The values of these constants should be big enough to allow
	// for a flurry of file creations.
	watchChanSize  = 10000
	notifiedSize   = 10000
	notifyChanSize = 10000
)

var (
	// AllWatchEvents is the list of all inotify events that can be
	// watched for.
	AllWatchEvents = []notify.Event{
		notify.InAccess,
		notify.InModify,
		notify.InAttrib,
		notify.InCloseWrite,
		notify.InCloseNowrite,
		notify.InOpen,
		notify.InMovedFrom,
		notify.InMovedTo,
		notify.InCreate,
		notify.InDelete,
		notify.InDeleteSelf,
		notify.InMoveSelf,
	}

	// DefaultWatchEvents are the events after which a file is complete.
	DefaultWatchEvents = []notify.Event{notify.InCloseWrite, notify.InMovedTo}

	ErrUnrecognizedEvent = errors.New("unrecognized event")
	ErrNotifyWatch       = errors.New("failed to start notify.Watch")

	// Testing and debugging support.
	timeNow   = time.Now
	vFunc     = func(fmt string, args ...interface{}) {}
	vFuncLock sync.Mutex
)

// Verbose prints verbose messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	vFuncLock.Lock()
	vFunc = v
	vFuncLock.Unlock()
}

func verbose(fmt string, args ...interface{}) {
	vFuncLock.Lock()
	vFunc(fmt, args...)
	vFuncLock.Unlock()
}

// New returns a new instance of WatchDir.  If watchEvents is empty,
// DefaultWatchEvents are watched.  Files modified before New is called
// are never reported by scans.
func New(watchDir string, watchExtensions []string, watchEvents []notify.Event, missedAge, missedInterval time.Duration) (*WatchDir, error) {
	if len(watchEvents) == 0 {
		watchEvents = DefaultWatchEvents
	} else if err := validateWatchEvents(watchEvents); err != nil {
		return nil, err
	}
	wd := &WatchDir{
		watchDir:        filepath.Clean(watchDir),
		watchExtensions: make(map[string]struct{}),
		watchEvents:     watchEvents,
		watchChan:       make(chan WatchEvent, watchChanSize),
		missedAge:       missedAge,
		missedInterval:  missedInterval,
		scanStart:       timeNow(),
		notified:        make(map[string]time.Time, notifiedSize),
	}
	for _, ext := range watchExtensions {
		wd.watchExtensions[ext] = struct{}{}
	}
	return wd, nil
}

// WatchChan returns the channel through which watch events are sent to
// the client.
func (wd *WatchDir) WatchChan() <-chan WatchEvent {
	return wd.watchChan
}

// WatchAndNotify watches the directory tree for the configured events
// and sends the pathnames of the files it noticed through the watch
// channel until ctx is canceled.
func (wd *WatchDir) WatchAndNotify(ctx context.Context) error {
	eiChan := make(chan notify.EventInfo, notifyChanSize)
	if err := notify.Watch(wd.watchDir+"/...", eiChan, wd.watchEvents...); err != nil {
		return fmt.Errorf("%w: %w", ErrNotifyWatch, err)
	}
	defer notify.Stop(eiChan)
	go wd.findMissedAndNotify(ctx)

	verbose("watching directory %v and notifying", wd.watchDir)
	for {
		select {
		case <-ctx.Done():
			verbose("'watch and notify' context canceled for %v", wd.watchDir)
			return nil
		case ei := <-eiChan:
			if err := validateWatchEvents([]notify.Event{ei.Event()}); err != nil {
				log.Printf("WARNING: ignoring unrecognized event %v for %v\n", ei, ei.Path())
				continue
			}
			fi, ok := wd.validPath(ei.Path())
			if !ok {
				verbose("ignoring %v", ei.Path())
				continue
			}
			wd.checkAndNotify(ctx, WatchEvent{Path: ei.Path(), Missed: false}, fi.ModTime())
		}
	}
}

// validateWatchEvents validates that all watch events in the specified
// list are valid.
func validateWatchEvents(watchEvents []notify.Event) error {
	for _, we := range watchEvents {
		found := false
		for i := range AllWatchEvents {
			if we == AllWatchEvents[i] {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%v: %w", we, ErrUnrecognizedEvent)
		}
	}
	return nil
}

// findMissedAndNotify periodically scans the directory tree for files
// that WatchAndNotify() may have missed.
func (wd *WatchDir) findMissedAndNotify(ctx context.Context) {
	verbose("scanning %v every %v to find missed files", wd.watchDir, wd.missedInterval)
	for {
		select {
		case <-ctx.Done():
			verbose("'find missed and notify' context canceled for %v", wd.watchDir)
			return
		case <-time.After(wd.missedInterval):
		}
		end := timeNow().Add(-wd.missedAge)
		if !end.After(wd.scanStart) {
			continue
		}
		wd.scan(ctx, wd.scanStart, end)
		wd.scanStart = end
	}
}

// scan notifies about every file in the tree modified in [start, end)
// and forgets notified files modified before start, which no later scan
// will visit.  It stops early if ctx is canceled.
func (wd *WatchDir) scan(ctx context.Context, start, end time.Time) {
	verbose("scanning %v for files modified in [%v, %v)", wd.watchDir, start, end)
	err := filepath.WalkDir(wd.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files can disappear while the tree is walked.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to access path: %w", err)
		}
		if d.IsDir() {
			return nil
		}
		fi, ok := wd.validPath(path)
		if !ok {
			return nil
		}
		if mtime := fi.ModTime(); !mtime.Before(start) && mtime.Before(end) {
			if !wd.checkAndNotify(ctx, WatchEvent{Path: path, Missed: true}, mtime) {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("WARNING: failed to walk directory %v: %v\n", wd.watchDir, err)
	}

	wd.notifiedLock.Lock()
	defer wd.notifiedLock.Unlock()
	for path, mtime := range wd.notified {
		if mtime.Before(start) {
			delete(wd.notified, path)
		}
	}
}

// checkAndNotify sends a notification for the file unless one was
// already sent for the same modification time.  It returns false if ctx
// was canceled before the notification could be sent.
func (wd *WatchDir) checkAndNotify(ctx context.Context, we WatchEvent, mtime time.Time) bool {
	wd.notifiedLock.Lock()
	if prev, ok := wd.notified[we.Path]; ok && prev.Equal(mtime) {
		wd.notifiedLock.Unlock()
		verbose("notification previously sent for %v", we)
		return true
	}
	wd.notified[we.Path] = mtime
	wd.notifiedLock.Unlock()
	select {
	case wd.watchChan <- we:
		verbose("notification sent for %v", we)
		return true
	case <-ctx.Done():
		wd.notifiedLock.Lock()
		delete(wd.notified, we.Path)
		wd.notifiedLock.Unlock()
		verbose("notification dropped for %v: %v", we, ctx.Err())
		return false
	}
}

// validPath returns the file information of path if it has a watched
// extension and is a regular file.
func (wd *WatchDir) validPath(path string) (fs.FileInfo, bool) {
	if len(wd.watchExtensions) > 0 {
		if _, ok := wd.watchExtensions[filepath.Ext(path)]; !ok {
			return nil, false
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		log.Printf("WARNING: failed to stat: %v\n", err)
		return nil, false
	}
	return fi, fi.Mode().IsRegular()
}
