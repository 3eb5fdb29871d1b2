// Package vision invokes the counting model for single images. The contract
// is deliberately lossy: a call that keeps failing reports zero birds rather
// than an error, so one bad image or a flaky model endpoint can never stall
// the batch.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/metrics"
	"github.com/yourorg/bird-survey/internal/retry"
)

const countPrompt = "Count the number of birds in this image. Respond with ONLY a number, nothing else."

var firstNumber = regexp.MustCompile(`\d+`)

// Invoker is the subset of the bedrock runtime client we use; allows fakes.
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client counts birds in images through a vision-language model.
type Client struct {
	bedrock Invoker
	modelID string
	policy  retry.Policy
	sleep   retry.Sleeper
	log     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRetryPolicy overrides the default 3-attempt, 1s-base backoff.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithSleeper injects the inter-attempt sleep; tests pass a recorder.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func New(bedrock Invoker, modelID string, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		bedrock: bedrock,
		modelID: modelID,
		policy:  retry.Policy{MaxAttempts: 3, BaseDelay: time.Second},
		sleep:   retry.Sleep,
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// anthropic messages request/response shapes for bedrock invoke_model.
type messageBody struct {
	AnthropicVersion string    `json:"anthropic_version"`
	Messages         []message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type content struct {
	Type   string       `json:"type"`
	Source *imageSource `json:"source,omitempty"`
	Text   string       `json:"text,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type modelResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// CountBirds returns the model's bird count for one image. Transport errors,
// malformed responses, and answers without a number are retried with
// exponential backoff; once attempts are exhausted the count is 0. It never
// returns an error.
func (c *Client) CountBirds(ctx context.Context, imageBytes []byte, filename string) int {
	var count int
	err := retry.Do(ctx, c.policy, c.sleep, func(attempt int) error {
		if attempt > 0 {
			metrics.ClassificationRetries.Inc()
		}
		n, err := c.invoke(ctx, imageBytes)
		if err != nil {
			c.log.Warn("counting attempt failed",
				zap.String("filename", filename),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		c.log.Error("all counting attempts failed, reporting zero",
			zap.String("filename", filename), zap.Error(err))
		return 0
	}
	metrics.ImagesClassified.Inc()
	metrics.BirdsDetected.Add(float64(count))
	c.log.Info("birds counted", zap.String("filename", filename), zap.Int("count", count))
	return count
}

func (c *Client) invoke(ctx context.Context, imageBytes []byte) (int, error) {
	body := messageBody{
		AnthropicVersion: "bedrock-2023-05-31",
		Messages: []message{{
			Role: "user",
			Content: []content{
				{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: "image/jpeg",
						Data:      base64.StdEncoding.EncodeToString(imageBytes),
					},
				},
				{Type: "text", Text: countPrompt},
			},
		}},
		MaxTokens: 10,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	out, err := c.bedrock.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return 0, fmt.Errorf("invoke model: %w", err)
	}

	var resp modelResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return 0, fmt.Errorf("decode model response: %w", err)
	}
	if len(resp.Content) == 0 {
		return 0, fmt.Errorf("empty model response")
	}
	text := resp.Content[0].Text
	m := firstNumber.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no number found in response: %q", text)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", m, err)
	}
	return n, nil
}
