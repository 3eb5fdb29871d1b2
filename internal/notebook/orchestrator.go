// Package notebook drives the stage-two notebook instance through its
// start/stop lifecycle. Triggering stage two is advisory: every failure mode
// ends in a persisted record or a log line, never in a failed stage-one run.
package notebook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/metrics"
	"github.com/yourorg/bird-survey/internal/retry"
	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/types"
)

// ErrNotFound means the named notebook instance does not exist. Terminal and
// non-retryable.
var ErrNotFound = errors.New("notebook instance not found")

// API is the lifecycle surface of the provisioning service.
type API interface {
	Describe(ctx context.Context, name string) (Status, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// Orchestrator owns the trigger state machine for one named notebook.
type Orchestrator struct {
	api   API
	store storage.ObjectStore
	name  string
	log   *zap.Logger
	sleep retry.Sleeper
	now   func() time.Time

	maxAttempts    int           // outer retry budget
	transitionWait time.Duration // between re-checks of a transitional state
	startRetryWait time.Duration // between start attempts on unknown status
	stopPollWait   time.Duration // between polls while waiting for Stopped
	stopPollMax    int
}

func New(api API, store storage.ObjectStore, name string, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		api:            api,
		store:          store,
		name:           name,
		log:            log,
		sleep:          retry.Sleep,
		now:            time.Now,
		maxAttempts:    3,
		transitionWait: 60 * time.Second,
		startRetryWait: 30 * time.Second,
		stopPollWait:   30 * time.Second,
		stopPollMax:    15,
	}
}

// Trigger brings the notebook to a fresh Starting state so its lifecycle
// script picks up the new record. The returned error is informational; the
// caller treats the trigger as advisory either way.
func (o *Orchestrator) Trigger(ctx context.Context, p types.TriggerParams) error {
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		status, err := o.api.Describe(ctx, o.name)
		if errors.Is(err, ErrNotFound) {
			o.log.Error("notebook instance does not exist", zap.String("notebook", o.name))
			o.writeMissingRecord(ctx, p)
			return nil
		}
		if err != nil {
			o.log.Warn("failed to check notebook status",
				zap.Int("attempt", attempt+1), zap.Error(err))
			if attempt < o.maxAttempts-1 {
				o.sleep(ctx, o.startRetryWait)
				continue
			}
			return fmt.Errorf("describe notebook %s: %w", o.name, err)
		}

		o.log.Info("notebook status",
			zap.String("notebook", o.name),
			zap.Stringer("status", status),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", o.maxAttempts))

		switch status {
		case StatusStopped:
			// The lifecycle script runs on start and stops the instance
			// itself when done; no need to wait here.
			if err := o.api.Start(ctx, o.name); err != nil {
				return fmt.Errorf("start notebook %s: %w", o.name, err)
			}
			o.log.Info("notebook start initiated", zap.String("notebook", o.name))
			o.writeLifecycleRecord(ctx, p, "start", status, attempt+1)
			return nil

		case StatusInService:
			// A leftover running instance won't pick up new work; force a
			// fresh run by cycling it.
			o.log.Warn("notebook already running, restarting for fresh processing",
				zap.String("notebook", o.name))
			if err := o.api.Stop(ctx, o.name); err != nil {
				return fmt.Errorf("stop notebook %s: %w", o.name, err)
			}
			if err := o.waitUntilStopped(ctx); err != nil {
				return err
			}
			if err := o.api.Start(ctx, o.name); err != nil {
				return fmt.Errorf("restart notebook %s: %w", o.name, err)
			}
			o.log.Info("notebook restart initiated", zap.String("notebook", o.name))
			o.writeLifecycleRecord(ctx, p, "restart", status, attempt+1)
			return nil

		default:
			if status.Transitional() {
				if attempt < o.maxAttempts-1 {
					o.log.Info("notebook in transition, waiting",
						zap.Stringer("status", status),
						zap.Duration("wait", o.transitionWait))
					o.sleep(ctx, o.transitionWait)
					continue
				}
				o.log.Warn("retry budget exhausted in transition state, creating delayed trigger",
					zap.Stringer("status", status))
				o.writeDelayedRecord(ctx, p, status)
				return nil
			}

			// Unexpected status: a start sometimes still works; try it with
			// its own bounded retry before giving up for this invocation.
			o.log.Error("unexpected notebook status", zap.Stringer("status", status))
			if attempt < o.maxAttempts-1 {
				startErr := o.api.Start(ctx, o.name)
				if startErr == nil {
					o.log.Info("start command sent despite unexpected status")
					o.writeLifecycleRecord(ctx, p, "start", status, attempt+1)
					return nil
				}
				o.log.Warn("start failed in unexpected status", zap.Error(startErr))
				o.sleep(ctx, o.startRetryWait)
				continue
			}
			o.log.Error("all start attempts failed for unexpected status")
			o.writeLifecycleRecord(ctx, p, "start-failed", status, attempt+1)
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) waitUntilStopped(ctx context.Context) error {
	for i := 0; i < o.stopPollMax; i++ {
		status, err := o.api.Describe(ctx, o.name)
		if err != nil {
			return fmt.Errorf("poll notebook %s: %w", o.name, err)
		}
		if status == StatusStopped {
			o.log.Info("notebook stopped", zap.String("notebook", o.name))
			return nil
		}
		o.sleep(ctx, o.stopPollWait)
	}
	return fmt.Errorf("notebook %s did not stop within %d polls", o.name, o.stopPollMax)
}

// delayedRecord is the fallback written when the notebook stayed in a
// transition state past the retry budget. Recovery is out-of-band.
type delayedRecord struct {
	Action           string `json:"action"`
	CSVKey           string `json:"csv_key"`
	ExtractionFolder string `json:"extraction_folder"`
	CurrentStatus    string `json:"current_status"`
	Timestamp        string `json:"timestamp"`
	Note             string `json:"note"`
}

func (o *Orchestrator) writeDelayedRecord(ctx context.Context, p types.TriggerParams, status Status) {
	key := fmt.Sprintf("sagemaker/delayed_trigger_%d.json", o.now().Unix())
	rec := delayedRecord{
		Action:           "delayed_processing",
		CSVKey:           p.CSVKey,
		ExtractionFolder: p.Folder,
		CurrentStatus:    status.String(),
		Timestamp:        o.now().UTC().Format(time.RFC3339),
		Note:             "Notebook was in transition state, manual intervention may be needed",
	}
	if err := o.putJSON(ctx, p.Bucket, key, rec); err != nil {
		o.log.Error("failed to write delayed trigger", zap.Error(err))
		return
	}
	metrics.FallbackRecords.Inc()
	o.log.Info("delayed trigger created", zap.String("key", key))
}

type missingRecord struct {
	Error        string `json:"error"`
	NotebookName string `json:"notebook_name"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

func (o *Orchestrator) writeMissingRecord(ctx context.Context, p types.TriggerParams) {
	key := fmt.Sprintf("sagemaker/notebook_missing_%d.json", o.now().Unix())
	rec := missingRecord{
		Error:        "notebook_not_found",
		NotebookName: o.name,
		Message:      "SageMaker notebook instance does not exist",
		Timestamp:    o.now().UTC().Format(time.RFC3339),
	}
	if err := o.putJSON(ctx, p.Bucket, key, rec); err != nil {
		o.log.Error("failed to write missing-notebook report", zap.Error(err))
		return
	}
	metrics.FallbackRecords.Inc()
	o.log.Info("missing-notebook report created", zap.String("key", key))
}

// lifecycleRecord documents the action taken; later records supersede
// earlier ones, nothing is edited in place.
type lifecycleRecord struct {
	ResourceName   string `json:"resource_name"`
	DesiredAction  string `json:"desired_action"`
	ObservedStatus string `json:"observed_status"`
	AttemptCount   int    `json:"attempt_count"`
	Timestamp      string `json:"timestamp"`
}

func (o *Orchestrator) writeLifecycleRecord(ctx context.Context, p types.TriggerParams, action string, status Status, attempts int) {
	// Best-effort observability; the trigger outcome does not depend on it.
	key := fmt.Sprintf("sagemaker/lifecycle_%d.json", o.now().Unix())
	rec := lifecycleRecord{
		ResourceName:   o.name,
		DesiredAction:  action,
		ObservedStatus: status.String(),
		AttemptCount:   attempts,
		Timestamp:      o.now().UTC().Format(time.RFC3339),
	}
	if err := o.putJSON(ctx, p.Bucket, key, rec); err != nil {
		o.log.Debug("failed to write lifecycle record", zap.Error(err))
	}
}

func (o *Orchestrator) putJSON(ctx context.Context, bucket, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	uri := fmt.Sprintf("s3://%s/%s", bucket, key)
	_, err = o.store.Put(ctx, uri, bytes.NewReader(b), "application/json")
	return err
}
