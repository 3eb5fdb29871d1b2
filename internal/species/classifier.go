// Package species implements the second processing stage: an ephemeral
// serverless inference endpoint classifies each previously counted image
// against the known species, and an enhanced record joins the results back
// onto the stage-one batch.
package species

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	smtypes "github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/retry"
	"github.com/yourorg/bird-survey/internal/storage"
)

// SpeciesNames fixes the class order; detection class_id indexes into it.
var SpeciesNames = []string{"pigeon", "dove", "starling", "sparrow", "blackbird", "crow"}

const (
	// acceptThreshold discards weak detections before aggregation.
	acceptThreshold = 0.3
	// Confidence-level buckets, in percent.
	highThreshold   = 70
	mediumThreshold = 50

	endpointMemoryMB   = 2048
	endpointConcurrent = 1
)

// EndpointAPI is the provisioning surface for ephemeral endpoints.
type EndpointAPI interface {
	CreateEndpointConfig(ctx context.Context, params *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, params *sagemaker.DeleteEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error)
	DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
}

// RuntimeAPI invokes a live endpoint.
type RuntimeAPI interface {
	InvokeEndpoint(ctx context.Context, params *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SpeciesResult is one species' aggregate for one image.
type SpeciesResult struct {
	Confidence float64 // percent
	Level      string  // low|medium|high
	Count      int     // raw detections of this species
}

// SpeciesData holds per-species results indexed parallel to SpeciesNames.
type SpeciesData []SpeciesResult

// zeroData is the degraded record for an image that could not be classified.
func zeroData() SpeciesData {
	d := make(SpeciesData, len(SpeciesNames))
	for i := range d {
		d[i] = SpeciesResult{Confidence: 0, Level: "low", Count: 0}
	}
	return d
}

// Classifier provisions and drives the ephemeral endpoint.
type Classifier struct {
	api     EndpointAPI
	runtime RuntimeAPI
	store   storage.ObjectStore
	cfg     Config
	log     *zap.Logger
	sleep   retry.Sleeper
	now     func() time.Time

	endpointName string
	waitDelay    time.Duration
	waitMax      int
}

func NewClassifier(api EndpointAPI, runtime RuntimeAPI, store storage.ObjectStore, cfg Config, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		api:       api,
		runtime:   runtime,
		store:     store,
		cfg:       cfg,
		log:       log,
		sleep:     retry.Sleep,
		now:       time.Now,
		waitDelay: 30 * time.Second,
		waitMax:   20,
	}
}

// Provision creates a serverless endpoint and blocks until it is InService.
// The endpoint name is set before any remote call so Teardown can clean up a
// partially provisioned endpoint.
func (c *Classifier) Provision(ctx context.Context) error {
	ts := c.now().Format("20060102150405")
	configName := "bird-endpoint-config-" + ts
	c.endpointName = "bird-endpoint-" + ts

	c.log.Info("provisioning endpoint",
		zap.String("endpoint", c.endpointName), zap.String("model", c.cfg.ModelName))

	_, err := c.api.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(configName),
		ProductionVariants: []smtypes.ProductionVariant{{
			VariantName: aws.String("AllTraffic"),
			ModelName:   aws.String(c.cfg.ModelName),
			ServerlessConfig: &smtypes.ProductionVariantServerlessConfig{
				MemorySizeInMB: aws.Int32(endpointMemoryMB),
				MaxConcurrency: aws.Int32(endpointConcurrent),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("create endpoint config: %w", err)
	}

	_, err = c.api.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(c.endpointName),
		EndpointConfigName: aws.String(configName),
	})
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}

	c.log.Info("waiting for endpoint")
	for i := 0; i < c.waitMax; i++ {
		out, err := c.api.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
			EndpointName: aws.String(c.endpointName),
		})
		if err == nil {
			switch out.EndpointStatus {
			case smtypes.EndpointStatusInService:
				c.log.Info("endpoint ready", zap.String("endpoint", c.endpointName))
				return nil
			case smtypes.EndpointStatusFailed:
				return fmt.Errorf("endpoint %s entered Failed state", c.endpointName)
			}
		}
		c.sleep(ctx, c.waitDelay)
	}
	return fmt.Errorf("endpoint %s not in service after %d polls", c.endpointName, c.waitMax)
}

// Teardown deletes the endpoint. It runs on every exit path; errors are
// logged, not returned, since there is nothing further to do with them.
func (c *Classifier) Teardown(ctx context.Context) {
	if c.endpointName == "" {
		return
	}
	c.log.Info("deleting endpoint", zap.String("endpoint", c.endpointName))
	_, err := c.api.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{
		EndpointName: aws.String(c.endpointName),
	})
	if err != nil {
		c.log.Warn("error deleting endpoint", zap.Error(err))
		return
	}
	c.log.Info("endpoint deleted")
}

type endpointResponse struct {
	Prediction [][]float64 `json:"prediction"`
}

// Classify normalizes one image, invokes the endpoint, and aggregates the
// detections per species: maximum confidence (a single strong detection
// dominates) and a raw detection count, with weak detections discarded
// first. Any failure degrades to the all-zero record.
func (c *Classifier) Classify(ctx context.Context, imageBytes []byte, name string) SpeciesData {
	normalized, err := normalizeImage(imageBytes)
	if err != nil {
		c.log.Error("image normalization failed", zap.String("image", name), zap.Error(err))
		return zeroData()
	}

	out, err := c.runtime.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(c.endpointName),
		ContentType:  aws.String("application/x-image"),
		Body:         normalized,
	})
	if err != nil {
		c.log.Error("endpoint invocation failed", zap.String("image", name), zap.Error(err))
		return zeroData()
	}

	var resp endpointResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		c.log.Error("malformed endpoint response", zap.String("image", name), zap.Error(err))
		return zeroData()
	}
	return aggregate(resp.Prediction, c.log)
}

// aggregate folds raw detections [class_id, confidence, x1, y1, x2, y2] into
// per-species results.
func aggregate(detections [][]float64, log *zap.Logger) SpeciesData {
	confidences := make([]float64, len(SpeciesNames))
	counts := make([]int, len(SpeciesNames))

	for _, det := range detections {
		if len(det) < 2 {
			continue
		}
		classID := int(det[0])
		confidence := det[1]
		if classID < 0 || classID >= len(SpeciesNames) || confidence <= acceptThreshold {
			continue
		}
		confidences[classID] = math.Max(confidences[classID], confidence)
		counts[classID]++
	}

	log.Debug("detections aggregated",
		zap.Int("detections", len(detections)),
		zap.Float64s("confidences", confidences))

	data := make(SpeciesData, len(SpeciesNames))
	for i := range SpeciesNames {
		pct := round2(confidences[i] * 100)
		data[i] = SpeciesResult{
			Confidence: pct,
			Level:      confidenceLevel(pct),
			Count:      counts[i],
		}
	}
	return data
}

func confidenceLevel(pct float64) string {
	switch {
	case pct >= highThreshold:
		return "high"
	case pct >= mediumThreshold:
		return "medium"
	default:
		return "low"
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
