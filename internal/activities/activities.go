package activities

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/archive"
	"github.com/yourorg/bird-survey/internal/batch"
	"github.com/yourorg/bird-survey/internal/notebook"
	"github.com/yourorg/bird-survey/internal/sink"
	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/types"
)

// uploadFolder is the extraction-folder label for single-image runs.
const uploadFolder = "uploads"

type Config struct {
	Bucket string
}

type Activities struct {
	cfg   Config
	store storage.ObjectStore
	proc  *batch.Processor
	sink  *sink.Sink
	orch  *notebook.Orchestrator
	log   *zap.Logger
	now   func() time.Time
}

func New(cfg Config, store storage.ObjectStore, proc *batch.Processor, snk *sink.Sink, orch *notebook.Orchestrator, log *zap.Logger) *Activities {
	if log == nil {
		log = zap.NewNop()
	}
	return &Activities{cfg: cfg, store: store, proc: proc, sink: snk, orch: orch, log: log, now: time.Now}
}

func (a *Activities) uri(key string) string {
	return fmt.Sprintf("s3://%s/%s", a.cfg.Bucket, key)
}

// ExtractArchive downloads the uploaded archive, validates it, extracts the
// allow-listed images, and uploads each one under public/<folder>/ so later
// activities can pass references instead of bytes. Upload failures drop the
// single image, not the batch.
func (a *Activities) ExtractArchive(ctx context.Context, p types.SurveyParams) (types.ExtractResult, error) {
	raw, err := storage.GetBytes(ctx, a.store, a.uri(p.Key))
	if err != nil {
		return types.ExtractResult{}, fmt.Errorf("download archive: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return types.ExtractResult{}, fmt.Errorf("open archive: %w", err)
	}

	if err := archive.NewValidator(a.log).Validate(zr); err != nil {
		return types.ExtractResult{}, err
	}

	images, skipped := archive.ExtractImages(zr, a.log)

	base := strings.TrimSuffix(path.Base(p.Key), path.Ext(p.Key))
	folder := fmt.Sprintf("extracted/%s-%s", archive.SanitizeFilename(base), a.now().Format("20060102150405"))

	result := types.ExtractResult{Folder: folder, Skipped: skipped}
	for i, img := range images {
		activity.RecordHeartbeat(ctx, i)
		key := path.Join("public", folder, img.Filename)
		if _, err := a.store.Put(ctx, a.uri(key), bytes.NewReader(img.Data), "image/"+strings.TrimPrefix(path.Ext(img.Filename), ".")); err != nil {
			a.log.Warn("error uploading extracted image", zap.String("key", key), zap.Error(err))
			result.Skipped++
			continue
		}
		result.Images = append(result.Images, types.ImageRef{Filename: img.Filename, Key: key})
	}

	a.log.Info("archive extracted",
		zap.String("folder", folder),
		zap.Int("images", len(result.Images)),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

// StageImage copies a single uploaded image under public/<folder>/ so that
// the results row and the stored object share the extraction folder and
// filename the classification stage joins on.
func (a *Activities) StageImage(ctx context.Context, p types.SurveyParams) (types.ExtractResult, error) {
	data, err := storage.GetBytes(ctx, a.store, a.uri(p.Key))
	if err != nil {
		return types.ExtractResult{}, fmt.Errorf("download image: %w", err)
	}
	filename := path.Base(p.Key)
	key := path.Join("public", uploadFolder, filename)
	contentType := "image/" + strings.TrimPrefix(path.Ext(filename), ".")
	if _, err := a.store.Put(ctx, a.uri(key), bytes.NewReader(data), contentType); err != nil {
		return types.ExtractResult{}, fmt.Errorf("stage image: %w", err)
	}
	a.log.Info("image staged", zap.String("key", key))
	return types.ExtractResult{
		Folder: uploadFolder,
		Images: []types.ImageRef{{Filename: filename, Key: key}},
	}, nil
}

// ClassifyBatch downloads each referenced image and runs the counting model
// over the batch. Per-image failures become zero counts: the processor
// absorbs model failures, and an image that cannot be downloaded is recorded
// as zero without spending model attempts on it.
func (a *Activities) ClassifyBatch(ctx context.Context, p types.SurveyParams, extract types.ExtractResult) (types.ResultBatch, error) {
	results := make([]types.ClassificationResult, len(extract.Images))
	var downloaded []types.ExtractedImage
	var positions []int
	for i, ref := range extract.Images {
		activity.RecordHeartbeat(ctx, i)
		data, err := storage.GetBytes(ctx, a.store, a.uri(ref.Key))
		if err != nil {
			a.log.Warn("error downloading image, recording zero",
				zap.String("key", ref.Key), zap.Error(err))
			results[i] = types.ClassificationResult{
				Filename: ref.Filename, BirdCount: 0, Folder: extract.Folder,
			}
			continue
		}
		downloaded = append(downloaded, types.ExtractedImage{Filename: ref.Filename, Data: data})
		positions = append(positions, i)
	}

	processed := a.proc.Process(ctx, downloaded, extract.Folder)
	for j, r := range processed.Results {
		results[positions[j]] = r
	}
	return types.ResultBatch{Folder: extract.Folder, Results: results}, nil
}

// PersistResults writes the stage-one results file and drops the handoff
// payloads for stage two. The handoff is best-effort; only a failed results
// write errors out.
func (a *Activities) PersistResults(ctx context.Context, b types.ResultBatch) (types.PersistResult, error) {
	key, err := a.sink.Persist(ctx, b)
	if err != nil {
		return types.PersistResult{}, err
	}
	a.sink.EmitHandoff(ctx, key, b.Folder)
	return types.PersistResult{CSVKey: key}, nil
}

// TriggerNotebook drives the notebook instance toward running so it picks up
// the handoff payloads. The workflow treats a returned error as advisory.
func (a *Activities) TriggerNotebook(ctx context.Context, p types.TriggerParams) error {
	return a.orch.Trigger(ctx, p)
}
