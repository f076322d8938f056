// Package schema implements the BigQuery schemas of the Wehe datatypes
// and the code that exports and publishes them.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/m-lab/go/cloud/bqx"

	"github.com/m-lab/wehe-archiver/api"
)

// DownloaderUploader interface.
type DownloaderUploader interface {
	Download(context.Context, string) ([]byte, error)
	Upload(context.Context, string, []byte) error
}

type (
	bqField   map[string]interface{}
	visitFunc func([]string, bqField) error
	mapDiff   struct {
		nInOld int
		nInNew int
		nType  int
	}
)

const testIDDescription = "Replay type (0 for original and 1 for bit-inverted replay)"

var (
	ReplayInfo = bigquery.Schema{
		{Name: "timestamp", Type: bigquery.TimestampFieldType, Required: true},
		{Name: "userID", Type: bigquery.StringFieldType, Required: true},
		{Name: "clientIP", Type: bigquery.StringFieldType, Required: true},
		{Name: "clientIP2", Type: bigquery.StringFieldType},
		{Name: "replayName", Type: bigquery.StringFieldType, Required: true},
		{Name: "extraString", Type: bigquery.StringFieldType, Description: "Extra string sent from the client (not used)"},
		{Name: "historyCount", Type: bigquery.StringFieldType, Required: true},
		{Name: "testID", Type: bigquery.StringFieldType, Required: true, Description: testIDDescription},
		{Name: "exception", Type: bigquery.StringFieldType, Description: "The exception if any during the test"},
		{Name: "testFinished", Type: bigquery.BooleanFieldType},
		{Name: "testFinishedWoutError", Type: bigquery.BooleanFieldType},
		{Name: "iperfInfo", Type: bigquery.StringFieldType},
		{Name: "testDurationServer", Type: bigquery.FloatFieldType, Description: "Test length (in seconds) recorded on the server"},
		{Name: "testDurationClient", Type: bigquery.FloatFieldType, Description: "Test length (in seconds) recorded on the client"},
		{Name: "metadata", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
			{Name: "cellInfo", Type: bigquery.StringFieldType},
			{Name: "model", Type: bigquery.StringFieldType},
			{Name: "manufacturer", Type: bigquery.StringFieldType},
			{Name: "carrierName", Type: bigquery.StringFieldType},
			{Name: "os", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
				{Name: "INCREMENTAL", Type: bigquery.IntegerFieldType},
				{Name: "RELEASE", Type: bigquery.StringFieldType},
				{Name: "SDK_INT", Type: bigquery.IntegerFieldType},
			}},
			{Name: "networkType", Type: bigquery.StringFieldType},
			{Name: "locationInfo", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
				{Name: "latitude", Type: bigquery.FloatFieldType},
				{Name: "longitude", Type: bigquery.FloatFieldType},
				{Name: "country", Type: bigquery.StringFieldType},
				{Name: "countryCode", Type: bigquery.StringFieldType},
				{Name: "city", Type: bigquery.StringFieldType},
				{Name: "localTime", Type: bigquery.TimestampFieldType},
			}},
			{Name: "updatedCarrierName", Type: bigquery.StringFieldType},
		}},
		{Name: "emptyBool", Type: bigquery.BooleanFieldType, Description: "A Boolean value no longer used"},
		{Name: "clientVersion", Type: bigquery.StringFieldType, Description: "The version of client app"},
		{Name: "measurementUUID", Type: bigquery.StringFieldType, Description: "Unique measurement identifier"},
	}

	ClientXputs = bigquery.Schema{
		{Name: "userID", Type: bigquery.StringFieldType, Required: true},
		{Name: "historyCount", Type: bigquery.StringFieldType, Required: true},
		{Name: "testID", Type: bigquery.StringFieldType, Required: true, Description: testIDDescription},
		{Name: "xputSamples", Type: bigquery.FloatFieldType, Repeated: true, Description: "throughput samples collected at client"},
		{Name: "intervals", Type: bigquery.FloatFieldType, Repeated: true, Description: "time intervals at which the throughput samples are recorded"},
	}

	Decisions = bigquery.Schema{
		{Name: "userID", Type: bigquery.StringFieldType, Required: true},
		{Name: "historyCount", Type: bigquery.StringFieldType, Required: true},
		{Name: "testID", Type: bigquery.StringFieldType, Required: true, Description: testIDDescription},
		{Name: "avgXputDiffPct", Type: bigquery.FloatFieldType, Description: "avgXputDiff / max(control's avgXput, original's avgXput)"},
		{Name: "KSAcceptRatio", Type: bigquery.FloatFieldType, Description: "KS test acceptance ratio"},
		{Name: "avgXputDiff", Type: bigquery.FloatFieldType, Description: "control's avgXput - original's avgXput"},
		{Name: "emptyField", Type: bigquery.StringFieldType, Description: "not used anymore"},
		{Name: "originalXputStats", Type: bigquery.RecordFieldType, Schema: xputStats()},
		{Name: "controlXputStats", Type: bigquery.RecordFieldType, Schema: xputStats()},
		{Name: "minXput", Type: bigquery.FloatFieldType},
		{Name: "KSAvgDVal", Type: bigquery.FloatFieldType, Description: "Average D value of the sampled KS test"},
		{Name: "KSAvgPVal", Type: bigquery.FloatFieldType, Description: "Average P value of the sampled KS test"},
		{Name: "KSDVal", Type: bigquery.FloatFieldType, Description: "D value of the KS test"},
		{Name: "KSPVal", Type: bigquery.FloatFieldType, Description: "P value of the KS test"},
	}

	schemas = map[string]bigquery.Schema{
		api.ReplayInfo.Name:  ReplayInfo,
		api.ClientXputs.Name: ClientXputs,
		api.Decisions.Name:   Decisions,
	}

	GCSDataDir            = "autoload/v1"
	gcsSchemaPathTemplate = "/datatypes/wehe/<datatype>.json"

	ErrUnknownDatatype = errors.New("unknown datatype")
	ErrRecordNoFields  = errors.New("record field has no subfields")
	ErrWriteSchema     = errors.New("failed to write schema file")
	ErrEmptySchema     = errors.New("empty schema file")
	ErrMarshal         = errors.New("failed to marshal schema")
	ErrUnmarshal       = errors.New("failed to unmarshal schema")
	ErrCompare         = errors.New("failed to compare schema")
	ErrOnlyInOld       = errors.New("field(s) only in old schema")
	ErrTypeMismatch    = errors.New("difference(s) in schema field types")
	ErrType            = errors.New("unexpected type")
	ErrDownload        = errors.New("failed to download schema")
	ErrUpload          = errors.New("failed to upload schema")
	ErrStorageClient   = errors.New("failed to create storage client")

	// Testing and debugging support.
	verbosef = func(fmt string, args ...interface{}) {}
)

// xputStats returns the schema of throughput statistics whose fields
// are in the order of api.XputStatsKeys.
func xputStats() bigquery.Schema {
	s := bigquery.Schema{}
	for _, k := range api.XputStatsKeys {
		s = append(s, &bigquery.FieldSchema{Name: k, Type: bigquery.FloatFieldType})
	}
	return s
}

// Verbose prints verbosef messages if initialized by the caller.
func Verbose(v func(string, ...interface{})) {
	verbosef = v
}

// ForDatatype returns the schema of the given datatype.
func ForDatatype(datatype string) (bigquery.Schema, error) {
	s, ok := schemas[datatype]
	if !ok {
		return nil, fmt.Errorf("%v: %w", datatype, ErrUnknownDatatype)
	}
	return s, nil
}

// FieldNames returns the names of the top-level fields of the given
// datatype's schema in order.
func FieldNames(datatype string) ([]string, error) {
	s, err := ForDatatype(datatype)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s))
	for _, f := range s {
		names = append(names, f.Name)
	}
	return names, nil
}

// FieldPaths returns the dot-separated names of all fields, including
// nested ones, of the given datatype's schema.
func FieldPaths(datatype string) ([]string, error) {
	s, err := ForDatatype(datatype)
	if err != nil {
		return nil, err
	}
	paths := []string{}
	err = bqx.WalkSchema(s, func(prefix []string, field *bigquery.FieldSchema) error {
		paths = append(paths, fieldPath(prefix, field.Name))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %v schema: %w", datatype, err)
	}
	return paths, nil
}

func fieldPath(prefix []string, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return strings.Join(prefix, ".") + "." + name
}

// Validate makes sure every RECORD field of the given datatype's schema
// has subfields, which BigQuery requires.
func Validate(datatype string) error {
	s, err := ForDatatype(datatype)
	if err != nil {
		return err
	}
	return bqx.WalkSchema(s, func(prefix []string, field *bigquery.FieldSchema) error { //nolint:wrapcheck
		if field.Type == bigquery.RecordFieldType && len(field.Schema) == 0 {
			return fmt.Errorf("%v: %w", fieldPath(prefix, field.Name), ErrRecordNoFields)
		}
		return nil
	})
}

// ToJSON returns the BigQuery API JSON representation of the given
// datatype's schema.
func ToJSON(datatype string) ([]byte, error) {
	s, err := ForDatatype(datatype)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := s.ToJSONFields()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	return schemaJSON, nil
}

// Describe returns a human readable rendition of the given datatype's
// schema.
func Describe(datatype string) (string, error) {
	s, err := ForDatatype(datatype)
	if err != nil {
		return "", err
	}
	pretty, err := bqx.PrettyPrint(s, true)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMarshal, err)
	}
	return pretty, nil
}

// PathForDatatype returns the pathname of the schema file of the given
// datatype in dir.
func PathForDatatype(dir, datatype string) string {
	return filepath.Join(dir, datatype+".json")
}

// WriteFiles writes the schema of every datatype to its own file in dir,
// creating dir if necessary.  Existing schema files are overwritten.
// It returns the pathnames of the files it wrote.
func WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteSchema, err)
	}
	files := []string{}
	for _, dt := range api.Datatypes {
		if err := Validate(dt.Name); err != nil {
			return files, err
		}
		schemaJSON, err := ToJSON(dt.Name)
		if err != nil {
			return files, err
		}
		file := PathForDatatype(dir, dt.Name)
		if err := os.WriteFile(file, schemaJSON, 0o666); err != nil {
			return files, fmt.Errorf("%w: %w", ErrWriteSchema, err)
		}
		log.Printf("created schema file %v\n", file)
		files = append(files, file)
	}
	return files, nil
}

// ValidateAndUpload compares the current schema of the given datatype
// against the one previously published to GCS and returns an error
// if they are not compatible.  If there is no previously published
// schema or the current one is a superset of it, the current schema is
// uploaded to GCS.
func ValidateAndUpload(gcsClient DownloaderUploader, datatype string) error {
	newSchemaJSON, err := ToJSON(datatype)
	if err != nil {
		return err
	}
	diff, err := diffSchemas(gcsClient, datatype, newSchemaJSON)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %w", ErrCompare, err)
		}
		// Scenario 1: old doesn't exist, should upload new.
		verbosef("no old schema for %v", datatype)
		return uploadSchema(gcsClient, datatype, newSchemaJSON)
	}
	if diff.nInOld != 0 {
		// Scenario 4 - new incompatible with old due to missing fields, should not upload.
		return fmt.Errorf("incompatible schema: %2d %w", diff.nInOld, ErrOnlyInOld)
	}
	if diff.nType != 0 {
		// Scenario 4 - new incompatible with old due to field type mismatch, should not upload.
		return fmt.Errorf("incompatible schema: %2d %w", diff.nType, ErrTypeMismatch)
	}
	if diff.nInNew != 0 {
		// Scenario 3 - new is a superset of old, should upload.
		verbosef("%2d field(s) only in new schema", diff.nInNew)
		return uploadSchema(gcsClient, datatype, newSchemaJSON)
	}
	// Scenario 2 - old exists and matches new, should not upload.
	verbosef("published %v schema is current", datatype)
	return nil
}

// diffSchemas downloads the published schema of the given datatype,
// compares it against newSchemaJSON, and returns their differences.
func diffSchemas(gcsClient DownloaderUploader, datatype string, newSchemaJSON []byte) (*mapDiff, error) {
	ctx := context.Background()
	objPath := SchemaObjectPath(datatype)
	oldSchemaJSON, err := gcsClient.Download(ctx, objPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	verbosef("successfully downloaded %v", objPath)
	oldFieldsMap, err := allFields(oldSchemaJSON)
	if err != nil {
		return nil, err
	}
	if len(oldFieldsMap) == 0 {
		return nil, ErrEmptySchema
	}
	newFieldsMap, err := allFields(newSchemaJSON)
	if err != nil {
		return nil, err
	}
	// Deleting old fields or changing their types is a breaking change.
	return compareMaps(oldFieldsMap, newFieldsMap), nil
}

// SchemaObjectPath returns the GCS object name (aka path) of the
// published schema of the given datatype.
func SchemaObjectPath(datatype string) string {
	return GCSDataDir + strings.Replace(gcsSchemaPathTemplate, "<datatype>", datatype, 1)
}

func uploadSchema(gcsClient DownloaderUploader, datatype string, schemaJSON []byte) error {
	objPath := SchemaObjectPath(datatype)
	verbosef("uploading %v", objPath)
	if err := gcsClient.Upload(context.Background(), objPath, schemaJSON); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	log.Printf("published %v schema to %v\n", datatype, objPath)
	return nil
}

// allFields returns a map of all fields in the given JSON schema.  The
// key of each map entry is the full field name and its value is the
// field type and mode (e.g., ["metadata.os.SDK_INT"]: "INTEGER").
func allFields(schemaJSON []byte) (map[string]string, error) {
	var s []interface{}
	if err := json.Unmarshal(schemaJSON, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}
	fields := make(map[string]string)
	err := visitAllFields(s, func(fullFieldName []string, field bqField) error {
		key := strings.Join(fullFieldName, ".")
		if field["mode"] == "REPEATED" {
			fields[key] = fmt.Sprintf("REPEATED %v", field["type"])
		} else {
			fields[key] = fmt.Sprintf("%v", field["type"])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// visitAllFields calls visit for each field in the given schema,
// recursing into RECORD fields.
func visitAllFields(s []interface{}, visit visitFunc) error {
	return visitAllFieldsRecursive(s, visit, []string{})
}

func visitAllFieldsRecursive(s []interface{}, visit visitFunc, fullFieldName []string) error {
	for _, field := range s {
		f, ok := field.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%T: %w", field, ErrType)
		}
		ffn := append(append([]string{}, fullFieldName...), fmt.Sprintf("%v", f["name"]))
		if err := visit(ffn, f); err != nil {
			return err
		}
		if f["type"] != "RECORD" {
			continue
		}
		subfields, ok := f["fields"].([]interface{})
		if !ok {
			return fmt.Errorf("%T: %w", f["fields"], ErrType)
		}
		if err := visitAllFieldsRecursive(subfields, visit, ffn); err != nil {
			return err
		}
	}
	return nil
}

// compareMaps compares the given maps and returns their differences
// as three integers that are the number of (1) keys only in the new map,
// (2) keys only in the old map, and (3) different values.  It also logs
// the comparison results in verbose mode.
func compareMaps(oldMap, newMap map[string]string) *mapDiff {
	diff := &mapDiff{}
	for _, n := range sortMapKeys(newMap) {
		if _, ok := oldMap[n]; !ok {
			verbosef("%-10s %v:%v", "only in new:", n, newMap[n])
			diff.nInNew++
			continue
		}
		if newMap[n] != oldMap[n] {
			verbosef("%-10v %v:%v in new, %v:%v in old", "mismatch:", n, newMap[n], n, oldMap[n])
			diff.nType++
			continue
		}
		verbosef("%-10s %v:%v", "in both:", n, newMap[n])
	}
	for _, o := range sortMapKeys(oldMap) {
		if _, ok := newMap[o]; !ok {
			verbosef("%-10s %v:%v", "only in old:", o, oldMap[o])
			diff.nInOld++
		}
	}
	return diff
}

// sortMapKeys returns a sorted slice of all keys in the given map.
func sortMapKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
