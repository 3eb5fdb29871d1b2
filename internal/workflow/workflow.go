package workflow

import (
	"path"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/bird-survey/internal/archive"
	"github.com/yourorg/bird-survey/internal/types"
)

// BirdSurveyWorkflow turns one uploaded object into a persisted results file:
// extract (or accept a single image), count birds per image, write the CSV,
// then hand off to the species classification stage. The handoff is
// best-effort; a notebook that cannot be started never fails the survey.
func BirdSurveyWorkflow(ctx workflow.Context, p types.SurveyParams) (types.SurveyResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	// Classification runs long between heartbeat points and already retries
	// each model call internally, so it gets one attempt. The trigger talks
	// to a notebook that can take minutes to stop and restart.
	classifyAO := ao
	classifyAO.StartToCloseTimeout = 4 * time.Hour
	classifyAO.HeartbeatTimeout = 5 * time.Minute
	classifyAO.RetryPolicy = &temporal.RetryPolicy{MaximumAttempts: 1}
	classifyCtx := workflow.WithActivityOptions(ctx, classifyAO)
	triggerAO := ao
	triggerAO.StartToCloseTimeout = 15 * time.Minute
	triggerAO.RetryPolicy = &temporal.RetryPolicy{MaximumAttempts: 1}
	triggerCtx := workflow.WithActivityOptions(ctx, triggerAO)

	logger := workflow.GetLogger(ctx)

	var extract types.ExtractResult
	switch {
	case strings.HasSuffix(strings.ToLower(p.Key), ".zip"):
		if err := workflow.ExecuteActivity(ctx, "Activities.ExtractArchive", p).Get(ctx, &extract); err != nil {
			return types.SurveyResult{}, err
		}
	case archive.IsImage(path.Base(p.Key)):
		// Stage the raw upload under public/ so the stored object and the
		// results row agree on folder and filename.
		if err := workflow.ExecuteActivity(ctx, "Activities.StageImage", p).Get(ctx, &extract); err != nil {
			return types.SurveyResult{}, err
		}
	default:
		logger.Info("object is neither an archive nor an image, skipping", "key", p.Key)
		return types.SurveyResult{Skipped: true}, nil
	}

	if len(extract.Images) == 0 {
		logger.Info("no images to classify", "key", p.Key)
		return types.SurveyResult{Folder: extract.Folder, SkippedEntries: extract.Skipped}, nil
	}

	var batch types.ResultBatch
	if err := workflow.ExecuteActivity(classifyCtx, "Activities.ClassifyBatch", p, extract).Get(ctx, &batch); err != nil {
		return types.SurveyResult{}, err
	}

	var persisted types.PersistResult
	if err := workflow.ExecuteActivity(ctx, "Activities.PersistResults", batch).Get(ctx, &persisted); err != nil {
		return types.SurveyResult{}, err
	}

	tp := types.TriggerParams{Bucket: p.Bucket, CSVKey: persisted.CSVKey, Folder: extract.Folder}
	if err := workflow.ExecuteActivity(triggerCtx, "Activities.TriggerNotebook", tp).Get(ctx, nil); err != nil {
		logger.Warn("species classification handoff failed", "error", err)
	}

	return types.SurveyResult{
		CSVKey:         persisted.CSVKey,
		Folder:         extract.Folder,
		Images:         len(extract.Images),
		TotalBirds:     batch.TotalBirds(),
		SkippedEntries: extract.Skipped,
	}, nil
}
