// Package archive moves Wehe result files from the temporary per-user
// staging directory into the permanent, date-partitioned archive
// directory, reshaping each file's positional JSON array into a JSON
// object whose keys are the field names of the datatype's schema.
//
// Staging files are expected in:
//
//	<TmpResultsDir>/<userID>/<staging subdir>/<filename>
//
// and archive files are written to:
//
//	<ArchiveDir>/<datatype>/<yyyy>/<mm>/<dd>/<filename>
//
// where the date is the current UTC date and the filename follows the
// datatype's naming convention with every '@' in the user ID replaced
// by a space.  Staging files are left in place.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-lab/wehe-archiver/api"
)

// Config defines the directories the mover reads from and writes to.
type Config struct {
	TmpResultsDir string // root of the per-user staging directories
	ArchiveDir    string // root of the date-partitioned archive
}

// Mover moves result files of all datatypes.  It holds no state other
// than its configuration; every move is a single synchronous read,
// reshape, and write.
type Mover struct {
	conf Config
}

var (
	ErrConfig          = errors.New("invalid configuration")
	ErrInvalidTestID   = errors.New("invalid test identifier")
	ErrDataUnavailable = errors.New("staging data unavailable")
	ErrCreateFolder    = errors.New("failed to create archive folder")
	ErrMarshal         = errors.New("failed to marshal record")
	ErrWriteArchive    = errors.New("failed to write archive file")
	ErrStagingPath     = errors.New("not a staging file pathname")
	ErrUnknownDatatype = errors.New("unknown datatype")

	// Testing and debugging support.
	timeNow = time.Now
	verbose = func(fmt string, args ...interface{}) {}
)

// Verbose provides a convenient way for the caller to enable verbose
// printing and control its format (mostly for debugging).
func Verbose(v func(string, ...interface{})) {
	verbose = v
}

// New returns a new Mover for the given configuration.
func New(conf Config) (*Mover, error) {
	if conf.TmpResultsDir == "" || conf.ArchiveDir == "" {
		return nil, fmt.Errorf("%w: empty directory name", ErrConfig)
	}
	conf.TmpResultsDir = filepath.Clean(conf.TmpResultsDir)
	conf.ArchiveDir = filepath.Clean(conf.ArchiveDir)
	return &Mover{conf: conf}, nil
}

// Folder returns the archive folder of the given datatype for the
// current UTC date, creating it and any missing parents.  It is not an
// error if the folder already exists.
func (m *Mover) Folder(dt api.Datatype) (string, error) {
	folder := filepath.Join(m.conf.ArchiveDir, dt.Name, timeNow().UTC().Format("2006/01/02"))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFolder, err)
	}
	return folder, nil
}

// StagingPath returns the pathname of the staging file of the given
// datatype and test.  The user ID is used as is.
func (m *Mover) StagingPath(dt api.Datatype, id api.TestID) string {
	return filepath.Join(m.conf.TmpResultsDir, id.UserID, dt.StagingSubdir, dt.Filename(id.UserID, id.HistoryCount, id.TestID))
}

// ParseStagingPath returns the datatype and test of the given staging
// file pathname.  It is the inverse of StagingPath.
func (m *Mover) ParseStagingPath(path string) (api.Datatype, api.TestID, error) {
	rel, err := filepath.Rel(m.conf.TmpResultsDir, filepath.Clean(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return api.Datatype{}, api.TestID{}, fmt.Errorf("%v: %w", path, ErrStagingPath)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 3 {
		return api.Datatype{}, api.TestID{}, fmt.Errorf("%v: %w", path, ErrStagingPath)
	}
	userID, subdir, filename := parts[0], parts[1], parts[2]
	for _, dt := range api.Datatypes {
		if dt.StagingSubdir != subdir {
			continue
		}
		prefix := dt.FilePrefix + "_" + userID + "_"
		if dt.Infix != "" {
			prefix += dt.Infix + "_"
		}
		if !strings.HasPrefix(filename, prefix) || !strings.HasSuffix(filename, ".json") {
			break
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(filename, prefix), ".json")
		idx := strings.LastIndex(rest, "_")
		if idx <= 0 || idx == len(rest)-1 {
			break
		}
		return dt, api.TestID{UserID: userID, HistoryCount: rest[:idx], TestID: rest[idx+1:]}, nil
	}
	return api.Datatype{}, api.TestID{}, fmt.Errorf("%v: %w", path, ErrStagingPath)
}

// Move moves the staging file of the given datatype and test to the
// archive and returns the pathname of the archive file.
func (m *Mover) Move(dt api.Datatype, id api.TestID) (string, error) {
	switch dt.Name {
	case api.ReplayInfo.Name:
		return m.MoveReplayInfo(id)
	case api.ClientXputs.Name:
		return m.MoveClientXputs(id)
	case api.Decisions.Name:
		return m.MoveDecisions(id)
	}
	return "", fmt.Errorf("%v: %w", dt.Name, ErrUnknownDatatype)
}

// MoveAll moves the staging files of all datatypes of the given test,
// stopping at the first failure.  It returns the pathnames of the
// archive files it wrote.
func (m *Mover) MoveAll(id api.TestID) ([]string, error) {
	files := []string{}
	for _, dt := range api.Datatypes {
		file, err := m.Move(dt, id)
		if err != nil {
			return files, err
		}
		files = append(files, file)
	}
	return files, nil
}

// validateTestID makes sure the components of id can be used as
// pathname components.
func validateTestID(id api.TestID) error {
	for _, s := range []string{id.UserID, id.HistoryCount, id.TestID} {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
			return fmt.Errorf("%w: %q", ErrInvalidTestID, s)
		}
	}
	return nil
}
