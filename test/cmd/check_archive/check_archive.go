// This tool is a part of e2e helper programs and verifies that every
// archive file under the given directories:
//
//  1. Is in a <datatype>/<yyyy>/<mm>/<dd> folder of a known datatype.
//  2. Is a JSON object whose keys are in the order of the datatype's
//     schema fields.
//  3. Is named after the test identified by its own contents, with
//     every '@' in the user ID replaced by a space.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/record"
	"github.com/m-lab/wehe-archiver/internal/schema"
)

var verbose = flag.Bool("verbose", false, "enable verbose mode")

func main() {
	flag.Parse()
	dirs := flag.Args()
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	n := 0
	for _, dir := range dirs {
		n += walkDir(dir)
	}
	fmt.Printf("checked %d archive files\n", n) //nolint:forbidigo
}

func walkDir(dir string) int {
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Panicf("failed to access path: %v", err)
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		checkArchiveFile(path)
		n++
		return nil
	})
	if err != nil {
		log.Panicf("failed to walk directory %v: %v", dir, err)
	}
	return n
}

func checkArchiveFile(path string) {
	if *verbose {
		fmt.Printf("checking %v\n", path) //nolint:forbidigo
	}
	// 1. Verify the folder.
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 5 {
		log.Panicf("%v: not in a <datatype>/<yyyy>/<mm>/<dd> folder", path)
	}
	parts = parts[len(parts)-5:]
	dt, ok := api.DatatypeByName(parts[0])
	if !ok {
		log.Panicf("%v: unknown datatype %v", path, parts[0])
	}
	if _, err := time.Parse("2006/01/02", strings.Join(parts[1:4], "/")); err != nil {
		log.Panicf("%v: invalid date folder: %v", path, err)
	}

	// 2. Verify the keys.
	contents, err := os.ReadFile(path)
	if err != nil {
		log.Panicf("failed to read %v: %v", path, err)
	}
	rec := record.New()
	if err := json.Unmarshal(contents, rec); err != nil {
		log.Panicf("failed to unmarshal %v: %v", path, err)
	}
	names, err := schema.FieldNames(dt.Name)
	if err != nil {
		log.Panic(err)
	}
	keys := rec.Keys()
	if dt == api.ReplayInfo {
		keys = withoutAppendedMetadata(keys, names)
	}
	if len(keys) > len(names) {
		log.Panicf("%v: %d keys, schema has %d fields", path, len(keys), len(names))
	}
	for i := range keys {
		if keys[i] != names[i] {
			log.Panicf("%v: key %d is %v, want %v", path, i, keys[i], names[i])
		}
	}

	// 3. Verify the filename.
	id := api.TestID{
		UserID:       stringValue(path, rec, "userID"),
		HistoryCount: stringValue(path, rec, "historyCount"),
		TestID:       stringValue(path, rec, "testID"),
	}
	want := dt.Filename(api.ArchiveUserID(id.UserID), id.HistoryCount, id.TestID)
	if parts[4] != want {
		log.Panicf("%v: filename should be %v", path, want)
	}
}

// withoutAppendedMetadata drops the metadata key if it was appended
// because the staging file was too short to include it.
func withoutAppendedMetadata(keys, names []string) []string {
	last := len(keys) - 1
	if last < 0 || keys[last] != "metadata" {
		return keys
	}
	for i, name := range names {
		if name == "metadata" && last < i {
			return keys[:last]
		}
	}
	return keys
}

func stringValue(path string, rec *record.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok {
		log.Panicf("%v: no %v", path, key)
	}
	s, ok := v.(string)
	if !ok {
		log.Panicf("%v: %v is %T, want string", path, key, v)
	}
	return s
}
