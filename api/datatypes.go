// Package api defines the Wehe result datatypes and the naming
// conventions of their staging and archive files.
package api

import (
	"fmt"
	"strings"
)

// Datatype describes one kind of Wehe result.  Name is both the BigQuery
// datatype name and the archive subdirectory.  StagingSubdir is the
// per-user subdirectory of the temporary results directory where the
// replay server writes the staging file.
type Datatype struct {
	Name          string // e.g., replayInfo1
	StagingSubdir string // e.g., replayInfo
	FilePrefix    string // first component of the filename
	Infix         string // fixed component between userID and historyCount (may be empty)
}

// TestID identifies a single Wehe test.  HistoryCount and TestID are
// kept as strings because that is how the client reports them and how
// the schemas declare them.
type TestID struct {
	UserID       string
	HistoryCount string
	TestID       string // 0 for the original replay, 1 for the bit-inverted replay
}

var (
	// ReplayInfo holds the replay metadata reported at the end of a replay.
	ReplayInfo = Datatype{Name: "replayInfo1", StagingSubdir: "replayInfo", FilePrefix: "replayInfo"}
	// ClientXputs holds the throughput samples measured by the client.
	ClientXputs = Datatype{Name: "clientXputs1", StagingSubdir: "clientXputs", FilePrefix: "Xput"}
	// Decisions holds the differentiation decision of the analyzer.
	Decisions = Datatype{Name: "decisions1", StagingSubdir: "decisions", FilePrefix: "results", Infix: "Client"}

	// Datatypes lists all datatypes in the order they are produced.
	Datatypes = []Datatype{ReplayInfo, ClientXputs, Decisions}

	// XputStatsKeys is the order of the values in the throughput
	// statistics arrays of the decisions file.
	XputStatsKeys = []string{"max", "min", "average", "median", "std"}
)

// DatatypeByName returns the datatype with the given name.
func DatatypeByName(name string) (Datatype, bool) {
	for _, dt := range Datatypes {
		if dt.Name == name {
			return dt, true
		}
	}
	return Datatype{}, false
}

// Filename returns the name of the file holding this datatype's result
// for the given user, history count, and test ID.
func (dt Datatype) Filename(userID, historyCount, testID string) string {
	if dt.Infix == "" {
		return fmt.Sprintf("%s_%s_%s_%s.json", dt.FilePrefix, userID, historyCount, testID)
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s.json", dt.FilePrefix, userID, dt.Infix, historyCount, testID)
}

// ArchiveUserID returns the user ID as it appears in archive filenames
// where every '@' is replaced by a space.
func ArchiveUserID(userID string) string {
	return strings.ReplaceAll(userID, "@", " ")
}

// String implements fmt.Stringer.
func (t TestID) String() string {
	return fmt.Sprintf("%s/%s/%s", t.UserID, t.HistoryCount, t.TestID)
}
