// Package main implements wehe-archiver.
package main

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/m-lab/go/flagx"

	"github.com/m-lab/wehe-archiver/internal/archive"
	"github.com/m-lab/wehe-archiver/internal/gcs"
	"github.com/m-lab/wehe-archiver/internal/schema"
	"github.com/m-lab/wehe-archiver/internal/testhelper"
	"github.com/m-lab/wehe-archiver/internal/watchdir"
)

var (
	// Flags related to local directories.
	tmpResultsDir string
	archiveDir    string
	schemaDir     string

	// Flags related to GCS.
	bucket       string
	gcsDataDir   string
	gcsLocalDisk bool

	// Flags related to a one-shot move of a single test.
	userID       string
	historyCount string
	testID       string

	// Flags related to where to watch for staging files (inotify events).
	extensions     flagx.StringArray
	missedAge      time.Duration
	missedInterval time.Duration

	// Flags related to program's execution.
	schemaMode   bool
	verbose      bool
	testInterval time.Duration

	// Errors related to command line parsing and validation.
	errExtraArgs     = errors.New("extra arguments on the command line")
	errPartialTestID = errors.New("must specify all or none of user-id, history-count, and test-id")
	errModes         = errors.New("cannot export schemas and move a test at the same time")
	errNoDir         = errors.New("must specify tmp-results-dir and archive-dir")
	errNoSchemaDir   = errors.New("must specify schema-dir")
	errBucketMode    = errors.New("gcs-bucket requires schema mode")
	errNoGCSDataDir  = errors.New("must specify gcs-data-dir")
)

func initFlags() {
	// Flags related to local directories.
	flag.StringVar(&tmpResultsDir, "tmp-results-dir", "/data/RecordReplay/tmpResults", "directory pathname under which per-user staging files are created")
	flag.StringVar(&archiveDir, "archive-dir", "/var/spool/wehe", "directory pathname under which results are archived")
	flag.StringVar(&schemaDir, "schema-dir", "/var/spool/datatypes", "directory pathname where schema files are written")

	// Flags related to GCS.
	flag.StringVar(&bucket, "gcs-bucket", "", "GCS bucket name to publish schemas to (schema mode only)")
	flag.StringVar(&gcsDataDir, "gcs-data-dir", "autoload/v1", "home directory in GCS bucket under which schemas are published")
	flag.BoolVar(&gcsLocalDisk, "gcs-local-disk", false, "use local disk storage instead of cloud storage (for test purposes only)")

	// Flags related to a one-shot move of a single test.
	flag.StringVar(&userID, "user-id", "", "user ID of the test to move")
	flag.StringVar(&historyCount, "history-count", "", "history count of the test to move")
	flag.StringVar(&testID, "test-id", "", "test ID of the test to move")

	// Flags related to where to watch for staging files (inotify events).
	extensions = flagx.StringArray{".json"}
	flag.DurationVar(&missedAge, "missed-age", 10*time.Minute, "minimum duration since a file's last modification time before it is considered missed")
	flag.DurationVar(&missedInterval, "missed-interval", 5*time.Minute, "time interval between scans of filesystem for missed files")

	// Flags related to program's execution.
	flag.BoolVar(&schemaMode, "schema", false, "write schema files for each datatype and exit")
	flag.BoolVar(&verbose, "verbose", false, "enable verbose mode")
	flag.DurationVar(&testInterval, "test-interval", 0, "time interval to stop running (for test purposes only)")

	flag.Var(&extensions, "extensions", "filename extensions to watch within <tmp-results-dir>")
}

// parseAndValidateCLI parses and validates the command line.
func parseAndValidateCLI() error {
	initFlags()
	// Note that extensions was declared as flags.StringArray{".json"}
	// so the usage message would show the right default value.
	// But we have to set it to nil before parsing the flags because
	// flagx.StringArray always appends to the array and there is no
	// way to remove an element from it.
	extensions = nil
	flag.Parse()
	if flag.NArg() != 0 {
		return errExtraArgs
	}

	// Now, check if some flags were set in the environment instead
	// of on the command line.
	if err := flagx.ArgsFromEnv(flag.CommandLine); err != nil {
		return fmt.Errorf("failed to get args from the environment: %w", err)
	}

	// Enable verbose mode in all packages as soon as the flags are
	// parsed because they may be called for during argument validation.
	if verbose {
		archive.Verbose(testhelper.VLogf)
		gcs.Verbose(testhelper.VLogf)
		schema.Verbose(testhelper.VLogf)
		watchdir.Verbose(testhelper.VLogf)
	}

	if extensions == nil {
		extensions = []string{".json"}
	}
	oneShot := userID != "" || historyCount != "" || testID != ""
	if oneShot && (userID == "" || historyCount == "" || testID == "") {
		return errPartialTestID
	}
	if oneShot && schemaMode {
		return errModes
	}
	if schemaMode {
		if schemaDir == "" {
			return errNoSchemaDir
		}
		if bucket != "" && gcsDataDir == "" {
			return errNoGCSDataDir
		}
		return nil
	}
	if bucket != "" {
		return errBucketMode
	}
	if tmpResultsDir == "" || archiveDir == "" {
		return errNoDir
	}
	return nil
}
