// Package main implements wehe-archiver.
package main

import (
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/archive"
	"github.com/m-lab/wehe-archiver/internal/schema"
	"github.com/m-lab/wehe-archiver/internal/testhelper"
)

var testID1 = api.TestID{UserID: "a@b.com", HistoryCount: "3", TestID: "0"}

// stageAll writes valid staging files of all datatypes for id.
func stageAll(t *testing.T, tmpDir string, id api.TestID) {
	t.Helper()
	staged := map[api.Datatype]string{
		api.ReplayInfo:  testhelper.ReplayInfoArray(id, `"{'os': {'name': 'Android'}}"`),
		api.ClientXputs: `[[1.5, 2.5], [0.5, 1.0]]`,
		api.Decisions:   `[0.12, 0.9, 0.05, "", [10,1,5,5,2], [12,2,6,6,1], 1, 0.8, 0.7, 0.3, 0.2]`,
	}
	for dt, contents := range staged {
		_, err := testhelper.WriteStagingFile(tmpDir, dt, id, contents)
		testingx.Must(t, err, "failed to write staging file")
	}
}

// archived returns the archive files of the given datatype.
func archived(t *testing.T, archiveDir string, dt api.Datatype) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(archiveDir, dt.Name, "*", "*", "*", "*.json"))
	testingx.Must(t, err, "filepath.Glob()")
	return files
}

// TestCLI tests command line parsing and the short-lived modes.
//
// The comment nolint:funlen,paralleltest tells golangci-lint
// not to run funlen and paralleltest linters because it's OK
// that the function length is more then 120 lines and also
// because we should not run these tests in parallel.
func TestCLI(t *testing.T) { //nolint:funlen,paralleltest
	tmpDir := filepath.Join(t.TempDir(), "tmpResults")
	archiveDir := filepath.Join(t.TempDir(), "wehe")
	schemaDir := filepath.Join(t.TempDir(), "datatypes")
	saveGCSRoot := gcsRoot
	gcsRoot = t.TempDir()
	defer func() { gcsRoot = saveGCSRoot }()
	stageAll(t, tmpDir, testID1)
	dirs := []string{"-tmp-results-dir", tmpDir, "-archive-dir", archiveDir, "-schema-dir", schemaDir}

	tests := []struct {
		name       string   // name of the test
		wantErrStr string   // error message
		args       []string // flags and arguments
	}{
		// Command line usage.
		{
			"help", flag.ErrHelp.Error(),
			[]string{"-h"},
		},
		// Invalid command lines.
		{
			"extra args", errExtraArgs.Error(),
			[]string{"extra-arg"},
		},
		{
			"undefined flag", "provided but not defined",
			[]string{"-undefined-flag"},
		},
		{
			"partial test ID", errPartialTestID.Error(),
			[]string{"-user-id", "u1", "-test-id", "0"},
		},
		{
			"schema and test ID", errModes.Error(),
			[]string{"-schema", "-user-id", "u1", "-history-count", "3", "-test-id", "0"},
		},
		{
			"bucket without schema mode", errBucketMode.Error(),
			[]string{"-gcs-bucket", "newclient"},
		},
		{
			"empty archive dir", errNoDir.Error(),
			[]string{"-user-id", "u1", "-history-count", "3", "-test-id", "0", "-archive-dir", ""},
		},
		{
			"schema: empty schema dir", errNoSchemaDir.Error(),
			[]string{"-schema", "-schema-dir", ""},
		},
		{
			"schema: empty gcs data dir", errNoGCSDataDir.Error(),
			[]string{"-schema", "-gcs-bucket", "newclient", "-gcs-data-dir", ""},
		},
		// Schema mode.
		{
			"schema: local only", "",
			append([]string{"-schema"}, dirs...),
		},
		{
			"schema: publish, nothing published yet", "",
			append([]string{"-schema", "-gcs-local-disk", "-gcs-bucket", "newclient,download,upload"}, dirs...),
		},
		{
			"schema: publish, already published", "",
			append([]string{"-schema", "-gcs-local-disk", "-gcs-bucket", "newclient,download"}, dirs...),
		},
		{
			"schema: publish, storage client failure", schema.ErrStorageClient.Error(),
			append([]string{"-schema", "-gcs-local-disk", "-gcs-bucket", "failnewclient"}, dirs...),
		},
		// One-shot mode.
		{
			"move: missing staging files", archive.ErrDataUnavailable.Error(),
			append([]string{"-user-id", "u2", "-history-count", "3", "-test-id", "0"}, dirs...),
		},
		{
			"move: invalid user ID", archive.ErrInvalidTestID.Error(),
			append([]string{"-user-id", "..", "-history-count", "3", "-test-id", "0"}, dirs...),
		},
		{
			"move: valid test", "",
			append([]string{"-user-id", testID1.UserID, "-history-count", testID1.HistoryCount, "-test-id", testID1.TestID}, dirs...),
		},
	}
	for i, test := range tests {
		var s string
		if test.wantErrStr == "" {
			s = "should succeed"
		} else {
			s = "should fail"
		}
		t.Logf("%s>>> test %02d: %s: %v%s", testhelper.ANSIPurple, i, s, test.name, testhelper.ANSIEnd)
		callMain(t, test.args, test.wantErrStr)
	}

	for _, dt := range api.Datatypes {
		if _, err := os.Stat(schema.PathForDatatype(schemaDir, dt.Name)); err != nil {
			t.Fatalf("schema file of %v: %v", dt.Name, err)
		}
		if _, err := os.Stat(filepath.Join(gcsRoot, schema.SchemaObjectPath(dt.Name))); err != nil {
			t.Fatalf("published schema of %v: %v", dt.Name, err)
		}
		files := archived(t, archiveDir, dt)
		if len(files) != 1 || !strings.Contains(filepath.Base(files[0]), "a b.com") {
			t.Fatalf("archive files of %v = %v, want one for a b.com", dt.Name, files)
		}
	}
}

// TestDaemon tests the long-lived mode that watches the staging tree.
func TestDaemon(t *testing.T) { //nolint:paralleltest
	saveServeMetrics := serveMetrics
	serveMetrics = func() *http.Server { return &http.Server{} } //nolint:exhaustruct
	defer func() { serveMetrics = saveServeMetrics }()

	tmpDir := filepath.Join(t.TempDir(), "tmpResults")
	archiveDir := filepath.Join(t.TempDir(), "wehe")
	testingx.Must(t, os.MkdirAll(filepath.Join(tmpDir, testID1.UserID, api.ClientXputs.StagingSubdir), 0o755), "failed to create staging directory")

	go func() {
		time.Sleep(500 * time.Millisecond)
		if _, err := testhelper.WriteStagingFile(tmpDir, api.ClientXputs, testID1, `[[1.5], [0.5]]`); err != nil {
			log.Printf("failed to write staging file: %v", err)
		}
	}()
	callMain(t, []string{"-tmp-results-dir", tmpDir, "-archive-dir", archiveDir, "-test-interval", "2s"}, "")
	if files := archived(t, archiveDir, api.ClientXputs); len(files) != 1 {
		t.Fatalf("archive files = %v, want 1", files)
	}

	// The staging tree must exist.
	callMain(t, []string{"-tmp-results-dir", filepath.Join(tmpDir, "missing"), "-archive-dir", archiveDir, "-test-interval", "2s"}, errWatch.Error())
}

// callMain calls main() with the given command line in osArgs, expecting
// an error that will include the given string in wantErrStr (which could
// be the empty string "").
//
// Since flags are global variables, we need to create a new flag set before
// calling main().  Also, we need to change the behavior of fatal to panic
// instead of exiting in order to recover from fatal errors.
func callMain(t *testing.T, osArgs []string, wantErrStr string) {
	t.Helper()
	saveOSArgs := os.Args
	saveFatal := fatal
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
	defer func() {
		gotErr := recoverError(recover())
		if gotErr == nil {
			if wantErrStr != "" {
				t.Fatalf("main() = nil, wanted %v", wantErrStr)
			}
		} else {
			if wantErrStr == "" {
				t.Fatalf("main() = %v, wanted \"\"", gotErr)
			} else if !strings.Contains(gotErr.Error(), wantErrStr) {
				t.Fatalf("main() = %v, wanted %v", gotErr, wantErrStr)
			}
		}
		os.Args = saveOSArgs
		fatal = saveFatal
	}()
	os.Args = []string{"wehe-archiver-test", "-verbose"}
	os.Args = append(os.Args, osArgs...)
	fatal = log.Panic
	t.Logf(">>> %v", strings.Join(os.Args, " "))
	main()
}

// recoverError returns the error that caused the panic.
func recoverError(r any) error {
	if r == nil {
		return nil
	}
	var err error
	switch x := r.(type) {
	case string:
		err = errors.New(x) //nolint
	case error:
		err = x
	default:
		err = errors.New("unknown panic") //nolint
	}
	return err
}

// TestPublishIncompatible tests that an incompatible published schema
// of one datatype fails the run without holding back the others.
func TestPublishIncompatible(t *testing.T) { //nolint:paralleltest
	saveGCSRoot := gcsRoot
	gcsRoot = t.TempDir()
	defer func() { gcsRoot = saveGCSRoot }()
	saveGCSDataDir := schema.GCSDataDir
	defer func() { schema.GCSDataDir = saveGCSDataDir }()

	published := filepath.Join(gcsRoot, "autoload", "v1", "datatypes", "wehe", api.Decisions.Name+".json")
	testingx.Must(t, os.MkdirAll(filepath.Dir(published), 0o755), "failed to create directory")
	testingx.Must(t, os.WriteFile(published, []byte(`[{"name":"retired","type":"STRING"}]`), 0o666), "failed to write published schema")

	args := []string{"-schema", "-schema-dir", t.TempDir(), "-gcs-local-disk", "-gcs-bucket", "newclient,download,upload"}
	callMain(t, args, schema.ErrOnlyInOld.Error())
	for _, dt := range []api.Datatype{api.ReplayInfo, api.ClientXputs} {
		if _, err := os.Stat(filepath.Join(gcsRoot, schema.SchemaObjectPath(dt.Name))); err != nil {
			t.Fatalf("published schema of %v: %v", dt.Name, err)
		}
	}
}
