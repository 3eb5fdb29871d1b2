package vision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/yourorg/bird-survey/internal/retry"
)

type fakeInvoker struct {
	responses []string // one per call; "" means transport error
	calls     int
	lastBody  []byte
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.calls++
	f.lastBody = in.Body
	if f.calls > len(f.responses) {
		return nil, errors.New("no scripted response")
	}
	text := f.responses[f.calls-1]
	if text == "" {
		return nil, errors.New("throttled")
	}
	body, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"text": text}},
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func newSleepRecorder() (retry.Sleeper, *[]time.Duration) {
	var slept []time.Duration
	return func(_ context.Context, d time.Duration) { slept = append(slept, d) }, &slept
}

func TestCountBirdsParsesFirstNumber(t *testing.T) {
	f := &fakeInvoker{responses: []string{"7"}}
	sleep, slept := newSleepRecorder()
	c := New(f, "test-model", nil, WithSleeper(sleep))
	if got := c.CountBirds(context.Background(), []byte("img"), "a.jpg"); got != 7 {
		t.Fatalf("count=%d; want 7", got)
	}
	if f.calls != 1 {
		t.Fatalf("calls=%d; want 1", f.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("slept %v; want none", *slept)
	}
}

func TestCountBirdsRecoversOnThirdAttempt(t *testing.T) {
	// Two failures then a free-text answer containing the count.
	f := &fakeInvoker{responses: []string{"", "", "3 birds detected"}}
	sleep, slept := newSleepRecorder()
	c := New(f, "test-model", nil, WithSleeper(sleep))
	if got := c.CountBirds(context.Background(), []byte("img"), "b.jpg"); got != 3 {
		t.Fatalf("count=%d; want 3", got)
	}
	if f.calls != 3 {
		t.Fatalf("calls=%d; want 3", f.calls)
	}
	var total time.Duration
	for _, d := range *slept {
		total += d
	}
	// Backoff is 1s then 2s before the successful attempt.
	if total < 3*time.Second {
		t.Fatalf("total backoff %v; want >= 3s", total)
	}
}

func TestCountBirdsExhaustionReturnsZero(t *testing.T) {
	f := &fakeInvoker{responses: []string{"", "", ""}}
	sleep, slept := newSleepRecorder()
	c := New(f, "test-model", nil, WithSleeper(sleep))
	if got := c.CountBirds(context.Background(), []byte("img"), "c.jpg"); got != 0 {
		t.Fatalf("count=%d; want 0", got)
	}
	if f.calls != 3 {
		t.Fatalf("calls=%d; want exactly 3", f.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v; want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("sleep %d = %v; want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestCountBirdsRetriesWhenNoNumberPresent(t *testing.T) {
	f := &fakeInvoker{responses: []string{"I see several birds", "2"}}
	sleep, _ := newSleepRecorder()
	c := New(f, "test-model", nil, WithSleeper(sleep))
	if got := c.CountBirds(context.Background(), []byte("img"), "d.jpg"); got != 2 {
		t.Fatalf("count=%d; want 2", got)
	}
	if f.calls != 2 {
		t.Fatalf("calls=%d; want 2", f.calls)
	}
}

func TestRequestBodyShape(t *testing.T) {
	f := &fakeInvoker{responses: []string{"1"}}
	sleep, _ := newSleepRecorder()
	c := New(f, "test-model", nil, WithSleeper(sleep))
	c.CountBirds(context.Background(), []byte{0xff, 0xd8}, "e.jpg")

	var body map[string]any
	if err := json.Unmarshal(f.lastBody, &body); err != nil {
		t.Fatalf("request body not json: %v", err)
	}
	if body["anthropic_version"] != "bedrock-2023-05-31" {
		t.Fatalf("anthropic_version=%v", body["anthropic_version"])
	}
	if body["max_tokens"] != float64(10) {
		t.Fatalf("max_tokens=%v; want 10", body["max_tokens"])
	}
}
