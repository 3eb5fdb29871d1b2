package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/types"
)

type fakeStore struct {
	objects map[string][]byte
	failOn  string // substring of URI that makes Put fail
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Get(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	b, ok := f.objects[uri]
	if !ok {
		return nil, 0, errors.New("not found: " + uri)
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (f *fakeStore) Put(ctx context.Context, uri string, body io.Reader, _ string) (string, error) {
	if f.failOn != "" && strings.Contains(uri, f.failOn) {
		return "", errors.New("injected put failure")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.objects[uri] = b
	return uri, nil
}

func (f *fakeStore) List(ctx context.Context, uri string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, uri) {
			out = append(out, storage.ObjectInfo{Key: strings.TrimPrefix(k, "s3://"), Size: int64(len(v))})
		}
	}
	return out, nil
}

func testBatch() types.ResultBatch {
	return types.ResultBatch{
		Folder: "extracted/survey-2024",
		Results: []types.ClassificationResult{
			{Filename: "robin.jpg", BirdCount: 2, Folder: "extracted/survey-2024"},
			{Filename: "sparrow.jpg", BirdCount: 0, Folder: "extracted/survey-2024"},
			{Filename: "flock.jpg", BirdCount: 14, Folder: "extracted/survey-2024"},
		},
	}
}

func newTestSink(store storage.ObjectStore) *Sink {
	s := New(store, "survey-bucket", "us-west-2", "", nil)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC) }
	return s
}

func TestPersistWritesCSVRecord(t *testing.T) {
	store := newFakeStore()
	s := newTestSink(store)

	key, err := s.Persist(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "public/results/bird-results-2024-06-01T12-30-45.csv"
	if key != want {
		t.Fatalf("key=%q; want %q", key, want)
	}

	raw, ok := store.objects["s3://survey-bucket/"+want]
	if !ok {
		t.Fatalf("record not written; have %v", store.objects)
	}
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		t.Fatalf("record is not CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows=%d; want header + 3", len(rows))
	}
	if strings.Join(rows[0], ",") != "filename,bird_count,extraction_folder" {
		t.Fatalf("header=%v", rows[0])
	}
	if strings.Join(rows[1], ",") != "robin.jpg,2,extracted/survey-2024" {
		t.Fatalf("row=%v", rows[1])
	}
	if strings.Join(rows[3], ",") != "flock.jpg,14,extracted/survey-2024" {
		t.Fatalf("row=%v", rows[3])
	}
}

func TestEmitHandoffWritesParamsAndTrigger(t *testing.T) {
	store := newFakeStore()
	s := newTestSink(store)
	s.EmitHandoff(context.Background(), "public/results/r.csv", "extracted/survey-2024")

	params, ok := store.objects["s3://survey-bucket/sagemaker/processing_params.json"]
	if !ok {
		t.Fatal("params payload missing")
	}
	for _, field := range []string{"bucket_name", "csv_key", "extraction_folder", "model_s3_path", "current_region"} {
		if !strings.Contains(string(params), field) {
			t.Fatalf("params missing %q: %s", field, params)
		}
	}

	trigger, ok := store.objects["s3://survey-bucket/triggers/run_classification"]
	if !ok {
		t.Fatal("trigger marker missing")
	}
	if !strings.Contains(string(trigger), "public/results/r.csv") {
		t.Fatalf("trigger=%s", trigger)
	}
}

func TestEmitHandoffFailureDoesNotPanicOrUndoPersist(t *testing.T) {
	store := newFakeStore()
	s := newTestSink(store)

	key, err := s.Persist(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	store.failOn = "triggers/"
	s.EmitHandoff(context.Background(), key, "extracted/survey-2024")

	// Stage-one record must still be there even though the trigger failed.
	if _, ok := store.objects["s3://survey-bucket/"+key]; !ok {
		t.Fatal("stage-one record lost after handoff failure")
	}
}
