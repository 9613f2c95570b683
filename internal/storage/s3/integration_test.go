//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aquamitra/aquamitra/internal/storage"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("AQUAMITRA_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("AQUAMITRA_TEST_S3_ENDPOINT is not set")
	}

	cfg := Config{
		Endpoint:         endpoint,
		Region:           envOr("AQUAMITRA_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("AQUAMITRA_TEST_S3_BUCKET", "aquamitra-it"),
		AccessKeyID:      envOr("AQUAMITRA_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("AQUAMITRA_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key, err := storage.CorpusKey("roundtrip.csv")
	if err != nil {
		t.Fatalf("CorpusKey() error = %v", err)
	}
	payload := []byte("place,state\nX,Bihar\n")
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	objects, err := store.List(ctx, storage.CorpusPrefix)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	found := false
	for _, obj := range objects {
		if obj.Key == key && obj.Size == int64(len(payload)) {
			found = true
		}
	}
	if !found {
		t.Fatalf("List() = %#v, want %s", objects, key)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	readPayload, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(readPayload, payload) {
		t.Fatalf("Get() payload = %q, want %q", string(readPayload), string(payload))
	}

	if _, err := store.Get(ctx, "corpus/missing.csv"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() missing error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
