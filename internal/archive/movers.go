package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/literal"
	"github.com/m-lab/wehe-archiver/internal/metrics"
	"github.com/m-lab/wehe-archiver/internal/record"
	"github.com/m-lab/wehe-archiver/internal/schema"
)

// reshapeFunc turns the positional values of a staging file into a
// record.
type reshapeFunc func(id api.TestID, values []interface{}) (*record.Record, error)

var (
	ErrEmptyFile = errors.New("empty file")
	ErrTooShort  = errors.New("too few values")
	ErrNotStats  = errors.New("throughput statistics is not an array")
)

// MoveReplayInfo moves the replayInfo staging file of the given test to
// the archive.  The metadata value, which is the printed form of a
// mapping, is parsed into a nested object.  If it cannot be parsed, it
// is archived as null.
func (m *Mover) MoveReplayInfo(id api.TestID) (string, error) {
	return m.move(api.ReplayInfo, id, reshapeReplayInfo)
}

// MoveClientXputs moves the clientXputs staging file of the given test
// to the archive.
func (m *Mover) MoveClientXputs(id api.TestID) (string, error) {
	return m.move(api.ClientXputs, id, reshapeClientXputs)
}

// MoveDecisions moves the decisions staging file of the given test to
// the archive.
func (m *Mover) MoveDecisions(id api.TestID) (string, error) {
	return m.move(api.Decisions, id, reshapeDecisions)
}

// move reads the staging file of the given datatype and test, reshapes
// it, and writes it as a JSON object to the archive.  An existing
// archive file is overwritten.
func (m *Mover) move(dt api.Datatype, id api.TestID, reshape reshapeFunc) (string, error) {
	if err := validateTestID(id); err != nil {
		return "", err
	}
	values, err := m.readStaging(dt, id)
	if err != nil {
		metrics.MovesTotal.WithLabelValues(dt.Name, "read").Inc()
		return "", err
	}
	rec, err := reshape(id, values)
	if err != nil {
		metrics.MovesTotal.WithLabelValues(dt.Name, "reshape").Inc()
		return "", fmt.Errorf("%w: %v: %w", ErrDataUnavailable, m.StagingPath(dt, id), err)
	}
	file, err := m.writeArchive(dt, id, rec)
	if err != nil {
		metrics.MovesTotal.WithLabelValues(dt.Name, "write").Inc()
		return "", err
	}
	metrics.MovesTotal.WithLabelValues(dt.Name, "ok").Inc()
	verbose("archived %v as %v", m.StagingPath(dt, id), file)
	return file, nil
}

// readStaging reads the staging file of the given datatype and test
// which must be a JSON array.
func (m *Mover) readStaging(dt api.Datatype, id api.TestID) ([]interface{}, error) {
	path := m.StagingPath(dt, id)
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: %v: %w", ErrDataUnavailable, path, ErrEmptyFile)
	}
	values, err := record.ParseArray(contents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrDataUnavailable, path, err)
	}
	return values, nil
}

// writeArchive writes rec to the archive file of the given datatype and
// test and returns its pathname.
func (m *Mover) writeArchive(dt api.Datatype, id api.TestID, rec *record.Record) (string, error) {
	folder, err := m.Folder(dt)
	if err != nil {
		return "", err
	}
	contents, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	file := filepath.Join(folder, dt.Filename(api.ArchiveUserID(id.UserID), id.HistoryCount, id.TestID))
	if err := os.WriteFile(file, contents, 0o666); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteArchive, err)
	}
	return file, nil
}

func reshapeReplayInfo(id api.TestID, values []interface{}) (*record.Record, error) {
	names, err := schema.FieldNames(api.ReplayInfo.Name)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	rec := record.Decode(names, values)
	raw, _ := rec.Get("metadata")
	metadata := record.BestEffort(func() (interface{}, error) {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%T: %w", raw, literal.ErrNotMapping)
		}
		return literal.ParseMapping(s)
	})
	if metadata == nil {
		metrics.MetadataFallbacksTotal.Inc()
		verbose("%v: unparsable metadata %q archived as null", id, raw)
	}
	rec.Set("metadata", metadata)
	return rec, nil
}

func reshapeClientXputs(id api.TestID, values []interface{}) (*record.Record, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("%w: %d values, want at least 2", ErrTooShort, len(values))
	}
	rec := record.New()
	rec.Set("userID", id.UserID)
	rec.Set("historyCount", id.HistoryCount)
	rec.Set("testID", id.TestID)
	rec.Set("xputSamples", values[0])
	rec.Set("intervals", values[1])
	return rec, nil
}

func reshapeDecisions(id api.TestID, values []interface{}) (*record.Record, error) {
	names, err := schema.FieldNames(api.Decisions.Name)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	all := append([]interface{}{id.UserID, id.HistoryCount, id.TestID}, values...)
	rec := record.Decode(names, all)
	for _, name := range []string{"originalXputStats", "controlXputStats"} {
		v, ok := rec.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: no %v", ErrTooShort, name)
		}
		stats, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%v: %T: %w", name, v, ErrNotStats)
		}
		rec.Set(name, record.Decode(api.XputStatsKeys, stats))
	}
	return rec, nil
}
