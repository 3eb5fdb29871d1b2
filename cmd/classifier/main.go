// The classifier binary runs the species classification stage on the
// notebook instance: stand up an ephemeral inference endpoint, enhance the
// newest counting results with per-species data, ship the run log, and stop
// the notebook it is running on.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/logging"
	"github.com/yourorg/bird-survey/internal/notebook"
	"github.com/yourorg/bird-survey/internal/species"
	"github.com/yourorg/bird-survey/internal/storage"
)

const (
	selfStopAttempts = 10
	selfStopWait     = 30 * time.Second
)

func main() {
	zl, capture := logging.NewCaptured(getenv("LOG_LEVEL", "info"))
	zl.Info("bird species classification started")

	cfgPath := getenv("CLASSIFIER_CONFIG", species.DefaultConfigPath)
	cfg, err := species.LoadConfig(cfgPath)
	if err != nil {
		zl.Error("config error", zap.Error(err))
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.NewS3(ctx, cfg.S3Region)
	if err != nil {
		zl.Error("object store error", zap.Error(err))
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SageMakerRegion))
	if err != nil {
		zl.Error("aws config error", zap.Error(err))
		os.Exit(1)
	}
	smClient := sagemaker.NewFromConfig(awsCfg)

	classifier := species.NewClassifier(
		smClient,
		sagemakerruntime.NewFromConfig(awsCfg),
		store, cfg, zl)

	runErr := classifier.Run(ctx)
	if runErr != nil {
		zl.Error("pipeline failed", zap.Error(runErr))
	}
	zl.Info("completed", zap.Bool("success", runErr == nil))

	shipLog(ctx, store, cfg, capture, zl)
	selfStop(ctx, notebook.NewSageMakerAPI(smClient), cfg.NotebookName, zl)

	if runErr != nil {
		os.Exit(1)
	}
}

// shipLog uploads everything logged this run, best-effort.
func shipLog(ctx context.Context, store storage.ObjectStore, cfg species.Config, capture *logging.Capture, zl *zap.Logger) {
	ts := time.Now().Format("20060102_150405")
	uri := fmt.Sprintf("s3://%s/logs/bird_classification_%s.log", cfg.BucketName, ts)
	if _, err := store.Put(ctx, uri, bytes.NewReader(capture.Bytes()), "text/plain"); err != nil {
		zl.Warn("could not upload log", zap.Error(err))
	}
}

// selfStop waits for the notebook hosting this process to be InService and
// stops it. The stop also kills this process, eventually.
func selfStop(ctx context.Context, api notebook.API, name string, zl *zap.Logger) {
	for attempt := 1; attempt <= selfStopAttempts; attempt++ {
		status, err := api.Describe(ctx, name)
		if err != nil {
			zl.Warn("error checking notebook status", zap.Error(err))
			return
		}
		if status == notebook.StatusInService {
			zl.Info("notebook is InService, stopping now")
			if err := api.Stop(ctx, name); err != nil {
				zl.Warn("error stopping notebook", zap.Error(err))
				return
			}
			zl.Info("notebook stop initiated")
			return
		}
		zl.Info("waiting for notebook to settle",
			zap.Stringer("status", status),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", selfStopAttempts))
		time.Sleep(selfStopWait)
	}
	zl.Warn("notebook never reached InService, leaving it as is")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
