// Package main implements wehe-archiver.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/m-lab/wehe-archiver/api"
	"github.com/m-lab/wehe-archiver/internal/gcs"
	"github.com/m-lab/wehe-archiver/internal/schema"
	"github.com/m-lab/wehe-archiver/internal/testhelper"
)

// gcsRoot is the local directory that mimics the GCS bucket when
// -gcs-local-disk is set.
var gcsRoot = "testdata"

// exportSchemas writes the schema file of every datatype to the schema
// directory.  If a GCS bucket was specified, it also publishes each
// schema that is new or a compatible superset of the published one.
func exportSchemas() error {
	files, err := schema.WriteFiles(schemaDir)
	if err != nil {
		return fmt.Errorf("failed to write schema files: %w", err)
	}
	if verbose {
		for _, dt := range api.Datatypes {
			desc, err := schema.Describe(dt.Name)
			if err != nil {
				return err //nolint:wrapcheck
			}
			log.Printf("%v:\n%v", dt.Name, desc)
		}
	}
	log.Printf("wrote %d schema files to %v\n", len(files), schemaDir)
	if bucket == "" {
		return nil
	}

	gcsClient, err := newGCSClient()
	if err != nil {
		return err
	}
	// Every datatype is published independently; an incompatible
	// schema of one does not hold back the others.
	schema.GCSDataDir = gcsDataDir
	var errs *multierror.Error
	for _, dt := range api.Datatypes {
		if err := schema.ValidateAndUpload(gcsClient, dt.Name); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%v: %w", dt.Name, err))
		}
	}
	return errs.ErrorOrNil()
}

func newGCSClient() (schema.DownloaderUploader, error) { //nolint:ireturn
	if gcsLocalDisk {
		return testhelper.NewClient(gcsRoot, bucket) //nolint:wrapcheck
	}
	gcsClient, err := gcs.NewClient(context.Background(), bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrStorageClient, err)
	}
	return gcsClient, nil
}
