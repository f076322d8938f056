// This tool is a part of e2e helper programs and keeps creating staging
// files of all datatypes, the way the replay server does at the end of
// each test, until it is interrupted or has created -tests tests.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/m-lab/go/rtx"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/testhelper"
)

var (
	tmpResultsDir = flag.String("tmp-results-dir", "../e2e/local/data/RecordReplay/tmpResults", "local pathname under which per-user staging files are created")
	nUsers        = flag.Int("users", 5, "number of distinct user IDs")
	nTests        = flag.Int("tests", 0, "number of tests to create (0 means forever)")
	sleep         = flag.Duration("sleep", 100*time.Millisecond, "sleep time between tests")
	verbose       = flag.Bool("verbose", false, "enable verbose mode")

	// Some user IDs are email-like to exercise the '@' replacement.
	userIDFormats = []string{"user%03d", "user%03d@wehe.example.com"}
	metadata      = []string{
		`"{'os': {'name': 'Android', 'version': '13'}, 'locationInfo': {'latitude': 42.36, 'longitude': -71.06}, 'cellInfo': None}"`,
		`"{\"os\": {\"name\": \"iOS\", \"version\": \"17.1\"}}"`,
		`"{'os': "`,
		`""`,
	}
)

func main() {
	flag.Parse()
	if *nUsers <= 0 {
		fmt.Println("must specify a positive number of users") //nolint:forbidigo
		os.Exit(1)
	}
	rand.Seed(int64(os.Getpid()))
	historyCounts := make([]int, *nUsers)
	for n := 0; *nTests == 0 || n < *nTests; n++ {
		user := rand.Intn(*nUsers) //nolint:gosec
		userID := fmt.Sprintf(userIDFormats[user%len(userIDFormats)], user)
		id := api.TestID{
			UserID:       userID,
			HistoryCount: strconv.Itoa(historyCounts[user]),
			TestID:       strconv.Itoa(rand.Intn(2)), //nolint:gosec
		}
		historyCounts[user]++
		createStagingFiles(id)
		time.Sleep(*sleep)
		fmt.Printf("%v\r", n) //nolint:forbidigo
	}
}

func createStagingFiles(id api.TestID) {
	samples := func() string {
		return fmt.Sprintf("[%.3f, %.3f, %.3f]", rand.Float64()*10, rand.Float64()*10, rand.Float64()*10) //nolint:gosec
	}
	staged := []struct {
		dt       api.Datatype
		contents string
	}{
		{api.ReplayInfo, testhelper.ReplayInfoArray(id, metadata[rand.Intn(len(metadata))])}, //nolint:gosec
		{api.ClientXputs, fmt.Sprintf("[%s, [0.5, 1.0, 1.5]]", samples())},
		{api.Decisions, fmt.Sprintf(`[%.3f, 0.9, 0.05, "", [10, 1, 5, 5, 2], [12, 2, 6, 6, 1], 1, 0.8, 0.7, 0.3, 0.2]`, rand.Float64())}, //nolint:gosec
	}
	for _, s := range staged {
		path, err := testhelper.WriteStagingFile(*tmpResultsDir, s.dt, id, s.contents)
		rtx.Must(err, "failed to create staging file")
		if *verbose {
			fmt.Printf("created %v\n", path) //nolint:forbidigo
		}
	}
}
