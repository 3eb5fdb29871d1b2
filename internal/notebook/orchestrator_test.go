package notebook

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/types"
)

type fakeAPI struct {
	statuses []Status // consumed per Describe call; last repeats
	descErr  error
	notFound bool

	describes int
	starts    int
	stops     int
	startErr  error

	// afterStop forces the status sequence once Stop has been called.
	afterStop     []Status
	stopDescribes int
}

func (f *fakeAPI) Describe(ctx context.Context, name string) (Status, error) {
	f.describes++
	if f.notFound {
		return StatusUnknown, ErrNotFound
	}
	if f.descErr != nil {
		return StatusUnknown, f.descErr
	}
	seq := f.statuses
	idx := f.describes - 1
	if f.stops > 0 && len(f.afterStop) > 0 {
		seq = f.afterStop
		idx = f.stopDescribes
		f.stopDescribes++
	}
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	return seq[idx], nil
}

func (f *fakeAPI) Start(ctx context.Context, name string) error {
	f.starts++
	return f.startErr
}

func (f *fakeAPI) Stop(ctx context.Context, name string) error {
	f.stops++
	return nil
}

type recordingStore struct {
	objects map[string][]byte
}

func (r *recordingStore) Get(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	b, ok := r.objects[uri]
	if !ok {
		return nil, 0, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (r *recordingStore) Put(ctx context.Context, uri string, body io.Reader, _ string) (string, error) {
	b, _ := io.ReadAll(body)
	r.objects[uri] = b
	return uri, nil
}

func (r *recordingStore) List(ctx context.Context, uri string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func newTestOrchestrator(api API) (*Orchestrator, *recordingStore, *[]time.Duration) {
	store := &recordingStore{objects: map[string][]byte{}}
	o := New(api, store, "bird-species-classifier-notebook-v4", nil)
	var slept []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }
	o.now = func() time.Time { return time.Unix(1717243845, 0) }
	return o, store, &slept
}

func keysWithPrefix(store *recordingStore, prefix string) []string {
	var out []string
	for k := range store.objects {
		if strings.Contains(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func params() types.TriggerParams {
	return types.TriggerParams{Bucket: "survey-bucket", CSVKey: "public/results/r.csv", Folder: "extracted/run"}
}

func TestTriggerFromStoppedStartsOnce(t *testing.T) {
	api := &fakeAPI{statuses: []Status{StatusStopped}}
	o, _, slept := newTestOrchestrator(api)

	require.NoError(t, o.Trigger(context.Background(), params()))
	assert.Equal(t, 1, api.describes)
	assert.Equal(t, 1, api.starts)
	assert.Equal(t, 0, api.stops)
	// No waiting: the lifecycle hook stops the instance itself.
	assert.Empty(t, *slept)
}

func TestTriggerFromInServiceCyclesInstance(t *testing.T) {
	api := &fakeAPI{
		statuses:  []Status{StatusInService},
		afterStop: []Status{StatusStopping, StatusStopped},
	}
	o, _, slept := newTestOrchestrator(api)

	require.NoError(t, o.Trigger(context.Background(), params()))
	assert.Equal(t, 1, api.stops)
	assert.Equal(t, 1, api.starts)
	// One bounded-wait sleep while the instance was still Stopping.
	assert.NotEmpty(t, *slept)
}

func TestTriggerTransitionalExhaustionWritesOneDelayedRecord(t *testing.T) {
	api := &fakeAPI{statuses: []Status{StatusStarting, StatusStarting, StatusStarting}}
	o, store, slept := newTestOrchestrator(api)

	require.NoError(t, o.Trigger(context.Background(), params()))
	assert.Equal(t, 3, api.describes)
	assert.Equal(t, 0, api.starts, "no start call beyond the status checks")
	assert.Equal(t, 0, api.stops)

	delayed := keysWithPrefix(store, "delayed_trigger_")
	require.Len(t, delayed, 1, "exactly one fallback record")
	body := string(store.objects[delayed[0]])
	assert.Contains(t, body, `"current_status":"Starting"`)
	assert.Contains(t, body, "delayed_processing")
	assert.Contains(t, body, "public/results/r.csv")

	// Two 60s waits between the three checks.
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second}, *slept)
}

func TestTriggerMissingNotebookWritesErrorReport(t *testing.T) {
	api := &fakeAPI{notFound: true}
	o, store, _ := newTestOrchestrator(api)

	require.NoError(t, o.Trigger(context.Background(), params()))
	assert.Equal(t, 1, api.describes, "not found is terminal, no retries")
	assert.Equal(t, 0, api.starts)

	missing := keysWithPrefix(store, "notebook_missing_")
	require.Len(t, missing, 1)
	body := string(store.objects[missing[0]])
	assert.Contains(t, body, "notebook_not_found")
	assert.Contains(t, body, "bird-species-classifier-notebook-v4")
}

func TestTriggerUnknownStatusAttemptsStart(t *testing.T) {
	api := &fakeAPI{statuses: []Status{StatusUnknown}}
	o, _, _ := newTestOrchestrator(api)

	require.NoError(t, o.Trigger(context.Background(), params()))
	assert.Equal(t, 1, api.starts, "start attempted despite unknown status")
}

func TestTriggerUnknownStatusStartKeepsFailing(t *testing.T) {
	api := &fakeAPI{statuses: []Status{StatusUnknown}, startErr: errors.New("denied")}
	o, store, _ := newTestOrchestrator(api)

	// Persistent failure is terminal for this invocation but not an error.
	require.NoError(t, o.Trigger(context.Background(), params()))
	assert.GreaterOrEqual(t, api.starts, 1)
	assert.Empty(t, keysWithPrefix(store, "delayed_trigger_"))
}

func TestTriggerDescribeErrorRetriesThenReports(t *testing.T) {
	api := &fakeAPI{descErr: errors.New("throttled")}
	o, _, slept := newTestOrchestrator(api)

	err := o.Trigger(context.Background(), params())
	require.Error(t, err)
	assert.Equal(t, 3, api.describes)
	assert.Len(t, *slept, 2)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"Stopped":   StatusStopped,
		"InService": StatusInService,
		"Starting":  StatusStarting,
		"Pending":   StatusStarting,
		"Stopping":  StatusStopping,
		"Deleting":  StatusUnknown,
		"":          StatusUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseStatus(in), "ParseStatus(%q)", in)
	}
}
