// Package testhelper implements code that helps in unit and integration
// testing.  The helpers in this package include verbose logging (with
// colored details), a local disk storage implementation that mimics
// downloads from and uploads to cloud storage (GCS), and writers of
// staging files in the layout the replay server uses.
package testhelper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/schema"
)

const (
	ANSIGreen  = "\033[00;32m"
	ANSIBlue   = "\033[00;34m"
	ANSIPurple = "\033[00;35m"
	ANSIEnd    = "\033[0m"
)

// VLogf logs messages in verbose mode (mostly for debugging).  Messages
// are prefixed by "filename:line-number function()" printed in green and
// the message printed in blue for easier visual inspection.
func VLogf(format string, args ...interface{}) {
	pc, file, line, ok := runtime.Caller(1)
	if !ok {
		log.Printf(format, args...)
		return
	}
	details := runtime.FuncForPC(pc)
	if details == nil {
		log.Printf(format, args...)
		return
	}
	file = filepath.Base(file)
	idx := strings.LastIndex(details.Name(), "/")
	if idx == -1 {
		idx = 0
	} else {
		idx++
	}
	a := []interface{}{ANSIGreen, file, line, details.Name()[idx:], ANSIBlue}
	a = append(a, args...)
	log.Printf("%s%s:%d: %s(): %s"+format+"%s", append(a, ANSIEnd)...)
}

// diskStorageClient implements a local disk storage that mimics downloads
// from and uploads to GCS.
//
// To provide strict testing, each test client should set the bucket name to
// the operation(s) it expects that particular test to perform.  An empty
// bucket name means no GCS operation is expected.  To force a failure,
// the operation name should be prefixed by "fail".
type diskStorageClient struct {
	root   string
	bucket string
}

// NewClient creates and returns a disk storage client that reads from
// and writes to the root directory on the local filesystem.
func NewClient(root, bucket string) (schema.DownloaderUploader, error) { //nolint:ireturn
	if !strings.Contains(bucket, "newclient") {
		panic("unexpected call to NewClient()")
	}
	if strings.Contains(bucket, "failnewclient") {
		return nil, schema.ErrStorageClient
	}
	return &diskStorageClient{root: root, bucket: bucket}, nil
}

// Download mimics downloading from GCS.
func (d *diskStorageClient) Download(ctx context.Context, objPath string) ([]byte, error) {
	if !strings.Contains(d.bucket, "download") {
		panic("unexpected call to Download()")
	}
	if strings.Contains(d.bucket, "faildownload") {
		return nil, schema.ErrDownload
	}
	contents, err := os.ReadFile(filepath.Join(d.root, objPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotExist
		}
		return nil, err //nolint:wrapcheck
	}
	return contents, nil
}

// Upload mimics uploading to GCS.
func (d *diskStorageClient) Upload(ctx context.Context, objPath string, contents []byte) error {
	if !strings.Contains(d.bucket, "upload") {
		panic("unexpected call to Upload()")
	}
	if strings.Contains(d.bucket, "failupload") {
		return schema.ErrUpload
	}
	file := filepath.Join(d.root, objPath)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err //nolint:wrapcheck
	}
	return os.WriteFile(file, contents, 0o666) //nolint:wrapcheck
}

// StagingPath returns the pathname of the staging file of the given
// datatype and test under tmpDir.
func StagingPath(tmpDir string, dt api.Datatype, id api.TestID) string {
	return filepath.Join(tmpDir, id.UserID, dt.StagingSubdir, dt.Filename(id.UserID, id.HistoryCount, id.TestID))
}

// WriteStagingFile writes contents as the staging file of the given
// datatype and test under tmpDir, creating directories as needed, and
// returns its pathname.
func WriteStagingFile(tmpDir string, dt api.Datatype, id api.TestID, contents string) (string, error) {
	path := StagingPath(tmpDir, dt, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o666); err != nil {
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	return path, nil
}

// ReplayInfoArray returns a staging replayInfo array for the given test
// with the given metadata value (which should be a JSON value).
func ReplayInfoArray(id api.TestID, metadata string) string {
	return fmt.Sprintf(`["2024-03-07 15:04:05", %q, "10.0.0.1", "10.0.0.2", "Youtube-12122018", "", %q, %q, "NoErrors", true, true, "", 45.5, 45.1, %s, false, "4.0.1", "7e1d4c0a-6c3b-4bb1-a1a5-1f2e3d4c5b6a"]`,
		id.UserID, id.HistoryCount, id.TestID, metadata)
}
