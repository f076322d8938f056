// Package main implements wehe-archiver.
//
// We use log.Panic() instead of log.Fatal() because log.Fatal()
// calls os.Exit() which will not run deferred calls and also makes
// testing harder (for testing, we can recover from log.Panic()).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/m-lab/go/prometheusx"
	"golang.org/x/sync/errgroup"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/archive"
	"github.com/m-lab/wehe-archiver/internal/watchdir"
)

var (
	fatal        = log.Panic
	serveMetrics = prometheusx.MustServeMetrics

	errWatch = errors.New("directory watcher stopped")
)

// main supports three modes of operation:
//   - A short-lived interactive mode, enabled by the -schema flag,
//     to write schema files and optionally publish them to GCS.
//   - A short-lived mode, enabled by the -user-id, -history-count,
//     and -test-id flags, to archive all results of a single test.
//   - A long-lived non-interactive mode to watch the staging tree and
//     archive every result file as soon as it is written.
func main() {
	log.SetFlags(log.Ltime)
	if err := parseAndValidateCLI(); err != nil {
		fatal(err)
	}

	switch {
	case schemaMode:
		if err := exportSchemas(); err != nil {
			fatal(err)
		}
	case userID != "":
		if err := moveTest(); err != nil {
			fatal(err)
		}
	default:
		if err := watchAndMove(); err != nil {
			fatal(err)
		}
	}
}

func newMover() (*archive.Mover, error) {
	mover, err := archive.New(archive.Config{
		TmpResultsDir: tmpResultsDir,
		ArchiveDir:    archiveDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate mover: %w", err)
	}
	return mover, nil
}

// moveTest archives the results of all datatypes of the test specified
// on the command line.
func moveTest() error {
	mover, err := newMover()
	if err != nil {
		return err
	}
	id := api.TestID{UserID: userID, HistoryCount: historyCount, TestID: testID}
	files, err := mover.MoveAll(id)
	for _, file := range files {
		log.Printf("archived %v\n", file)
	}
	if err != nil {
		return fmt.Errorf("failed to archive %v: %w", id, err)
	}
	return nil
}

// watchAndMove watches the staging tree and archives every result file
// written to it until the directory watcher stops or, in test mode, the
// test interval expires.
func watchAndMove() error {
	mover, err := newMover()
	if err != nil {
		return err
	}
	wdClient, err := watchdir.New(tmpResultsDir, extensions, watchdir.DefaultWatchEvents, missedAge, missedInterval)
	if err != nil {
		return fmt.Errorf("failed to instantiate watcher: %w", err)
	}

	srv := serveMetrics()
	defer srv.Close()

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	if testInterval > 0 {
		var cancel context.CancelFunc
		mainCtx, cancel = context.WithTimeout(mainCtx, testInterval)
		defer cancel()
	}

	// If the watcher fails, the group's context is canceled and the
	// mover stops too.  Otherwise both run until mainCtx is done.
	eg, ctx := errgroup.WithContext(mainCtx)
	eg.Go(func() error {
		if err := wdClient.WatchAndNotify(ctx); err != nil {
			return fmt.Errorf("%w: %w", errWatch, err)
		}
		return nil
	})
	eg.Go(func() error {
		return mover.WatchAndMove(ctx, wdClient) //nolint:wrapcheck
	})
	return eg.Wait() //nolint:wrapcheck
}
