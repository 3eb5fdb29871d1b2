package main

import (
	"context"
	"log"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	tactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/activities"
	"github.com/yourorg/bird-survey/internal/batch"
	"github.com/yourorg/bird-survey/internal/dedupe"
	"github.com/yourorg/bird-survey/internal/logging"
	bsmetrics "github.com/yourorg/bird-survey/internal/metrics"
	"github.com/yourorg/bird-survey/internal/notebook"
	"github.com/yourorg/bird-survey/internal/sink"
	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/vision"
	"github.com/yourorg/bird-survey/internal/workflow"
)

func main() {
	taddr := getenv("TEMPORAL_TARGET_HOST", getenv("TEMPORAL_ADDRESS", "localhost:7233"))
	ns := getenv("TEMPORAL_NAMESPACE", "default")
	q := getenv("TEMPORAL_TASK_QUEUE", "bird-survey")
	bucket := getenv("SURVEY_BUCKET", "bird-survey")
	region := getenv("AWS_REGION", "us-west-2")
	modelID := getenv("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20240620-v1:0")
	notebookName := getenv("NOTEBOOK_NAME", "bird-classification-notebook")
	containerImage := getenv("CLASSIFIER_IMAGE", "")
	cacheDir := getenv("BS_CACHE_DIR", "/var/bird-survey/cache")
	_ = os.MkdirAll(cacheDir, 0o777)

	zl := logging.New(getenv("LOG_LEVEL", "info"))
	defer zl.Sync()

	bsmetrics.Init()
	go func() {
		addr := bsmetrics.AddrFromEnv()
		_ = bsmetrics.Serve(addr)
	}()

	ctx := context.Background()
	store, err := storage.NewS3(ctx, region)
	if err != nil {
		log.Fatal("object store:", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatal("aws config:", err)
	}
	counter := vision.New(bedrockruntime.NewFromConfig(awsCfg), modelID, zl)

	cache, err := dedupe.Open(cacheDir)
	if err != nil {
		zl.Warn("classification cache unavailable, every image goes to the model", zap.Error(err))
	}
	defer cache.Close()

	c, err := client.Dial(client.Options{HostPort: taddr, Namespace: ns})
	if err != nil {
		log.Fatal("temporal client:", err)
	}
	defer c.Close()

	proc := batch.NewProcessor(counter, cache, zl)
	snk := sink.New(store, bucket, region, containerImage, zl)
	orch := notebook.New(notebook.NewSageMakerAPI(sagemaker.NewFromConfig(awsCfg)), store, notebookName, zl)

	w := worker.New(c, q, worker.Options{})
	acts := activities.New(activities.Config{Bucket: bucket}, store, proc, snk, orch, zl)
	// Register activities with explicit names matching workflow.ExecuteActivity calls
	w.RegisterActivityWithOptions(acts.ExtractArchive, tactivity.RegisterOptions{Name: "Activities.ExtractArchive"})
	w.RegisterActivityWithOptions(acts.StageImage, tactivity.RegisterOptions{Name: "Activities.StageImage"})
	w.RegisterActivityWithOptions(acts.ClassifyBatch, tactivity.RegisterOptions{Name: "Activities.ClassifyBatch"})
	w.RegisterActivityWithOptions(acts.PersistResults, tactivity.RegisterOptions{Name: "Activities.PersistResults"})
	w.RegisterActivityWithOptions(acts.TriggerNotebook, tactivity.RegisterOptions{Name: "Activities.TriggerNotebook"})
	w.RegisterWorkflow(workflow.BirdSurveyWorkflow)

	zl.Info("worker started",
		zap.String("namespace", ns),
		zap.String("taskQueue", q),
		zap.String("bucket", bucket),
		zap.String("notebook", notebookName))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker failed:", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
