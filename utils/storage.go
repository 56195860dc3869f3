package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ArchiveSnapshotToGCS writes a baseline snapshot payload to the archive
// bucket as a second, off-database write-once copy. Best-effort: callers log
// failures but never roll back the committed snapshot.
func ArchiveSnapshotToGCS(ctx context.Context, objectName string, payload []byte) error {
	bucketName := os.Getenv("GCS_SNAPSHOT_BUCKET")
	if bucketName == "" {
		return errors.New("GCS_SNAPSHOT_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %q not found or not accessible: %v", bucketName, err)
	}

	// Snapshots are immutable; refuse to clobber an existing archive object.
	obj := client.Bucket(bucketName).Object(objectName).If(storage.Conditions{DoesNotExist: true})
	wc := obj.NewWriter(ctx)
	wc.ContentType = "application/json"

	if _, err := wc.Write(payload); err != nil {
		return err
	}
	return wc.Close()
}
