// Package sink persists stage-one results and emits the handoff payloads for
// stage two. Persisting the record and kicking off stage two are independent:
// a failed handoff never invalidates results already written.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/types"
)

const (
	resultsPrefix = "public/results/"
	paramsKey     = "sagemaker/processing_params.json"
	triggerKey    = "triggers/run_classification"
	csvTimeLayout = "2006-01-02T15-04-05"
)

// Sink writes result records to the object store.
type Sink struct {
	store  storage.ObjectStore
	bucket string
	region string
	image  string // stage-two container image, passed through to the params payload
	log    *zap.Logger
	now    func() time.Time
}

func New(store storage.ObjectStore, bucket, region, containerImage string, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		store:  store,
		bucket: bucket,
		region: region,
		image:  containerImage,
		log:    log,
		now:    time.Now,
	}
}

// Persist writes the batch as a CSV record at a timestamped key and returns
// the key. The record is append-only: it is written once and never mutated.
func (s *Sink) Persist(ctx context.Context, batch types.ResultBatch) (string, error) {
	key := fmt.Sprintf("%sbird-results-%s.csv", resultsPrefix, s.now().UTC().Format(csvTimeLayout))

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"filename", "bird_count", "extraction_folder"}); err != nil {
		return "", err
	}
	for _, r := range batch.Results {
		if err := w.Write([]string{r.Filename, strconv.Itoa(r.BirdCount), batch.Folder}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	uri := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	if _, err := s.store.Put(ctx, uri, &buf, "text/csv"); err != nil {
		return "", fmt.Errorf("persist results: %w", err)
	}

	withBirds := 0
	for _, r := range batch.Results {
		if r.BirdCount > 0 {
			withBirds++
		}
	}
	s.log.Info("results persisted",
		zap.String("key", key),
		zap.Int("images", len(batch.Results)),
		zap.Int("total_birds", batch.TotalBirds()),
		zap.Int("images_with_birds", withBirds))
	return key, nil
}

// HandoffParams is the stage-two parameter payload.
type HandoffParams struct {
	BucketName        string `json:"bucket_name"`
	CSVKey            string `json:"csv_key"`
	ExtractionFolder  string `json:"extraction_folder"`
	Timestamp         string `json:"timestamp"`
	ModelS3Path       string `json:"model_s3_path"`
	ModelMetadataPath string `json:"model_metadata_path"`
	CurrentRegion     string `json:"current_region"`
	ContainerImage    string `json:"container_image"`
}

// TriggerMarker is the lightweight marker the stage-two daemon watches for.
type TriggerMarker struct {
	CSVKey           string `json:"csv_key"`
	ExtractionFolder string `json:"extraction_folder"`
	Timestamp        string `json:"timestamp"`
}

// EmitHandoff writes the parameters object and the trigger marker. Both are
// best-effort; failures are logged and swallowed.
func (s *Sink) EmitHandoff(ctx context.Context, csvKey, folder string) {
	ts := s.now().UTC().Format(time.RFC3339)

	params := HandoffParams{
		BucketName:        s.bucket,
		CSVKey:            csvKey,
		ExtractionFolder:  folder,
		Timestamp:         ts,
		ModelS3Path:       fmt.Sprintf("s3://%s/models/bird-species-model.tar.gz", s.bucket),
		ModelMetadataPath: fmt.Sprintf("s3://%s/models/model-metadata.json", s.bucket),
		CurrentRegion:     s.region,
		ContainerImage:    s.image,
	}
	if err := s.putJSON(ctx, paramsKey, params); err != nil {
		s.log.Error("failed to write processing params", zap.Error(err))
	} else {
		s.log.Info("processing params saved", zap.String("key", paramsKey))
	}

	marker := TriggerMarker{CSVKey: csvKey, ExtractionFolder: folder, Timestamp: ts}
	if err := s.putJSON(ctx, triggerKey, marker); err != nil {
		s.log.Error("failed to write classification trigger", zap.Error(err))
	} else {
		s.log.Info("classification trigger created", zap.String("key", triggerKey))
	}
}

func (s *Sink) putJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	_, err = s.store.Put(ctx, uri, bytes.NewReader(b), "application/json")
	return err
}
