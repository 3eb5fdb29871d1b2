package species

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/storage"
)

const resultsPrefix = "public/results/"

// ErrNoResults means no stage-one results file exists to enhance.
var ErrNoResults = errors.New("no results file found")

// Run executes the full classification pass: provision an endpoint, find the
// newest stage-one results file, classify every image it references, and
// write the enhanced results file. The endpoint is deleted on every exit
// path, including provisioning failure.
func (c *Classifier) Run(ctx context.Context) error {
	c.log.Info("starting classification pipeline")

	defer c.Teardown(ctx)

	if err := c.Provision(ctx); err != nil {
		return fmt.Errorf("provision endpoint: %w", err)
	}

	csvKey, err := c.discoverLatestCSV(ctx)
	if err != nil {
		return err
	}

	enhancedKey, err := c.enhanceResults(ctx, csvKey)
	if err != nil {
		return err
	}
	c.log.Info("classification pipeline complete", zap.String("key", enhancedKey))
	return nil
}

// discoverLatestCSV picks the newest stage-one results file under
// public/results/ by last-modified time.
func (c *Classifier) discoverLatestCSV(ctx context.Context) (string, error) {
	uri := fmt.Sprintf("s3://%s/%s", c.cfg.BucketName, resultsPrefix)
	objects, err := c.store.List(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("list results: %w", err)
	}

	var candidates []storage.ObjectInfo
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, ".csv") && strings.Contains(obj.Key, "bird-results") {
			candidates = append(candidates, obj)
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoResults
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastModified.After(candidates[j].LastModified)
	})
	c.log.Info("found results file", zap.String("key", candidates[0].Key))
	return candidates[0].Key, nil
}

// enhanceResults reads the stage-one results file, classifies every image it
// references, and writes the enhanced file. Rows whose image cannot be
// fetched keep the all-zero species record rather than failing the batch.
func (c *Classifier) enhanceResults(ctx context.Context, csvKey string) (string, error) {
	raw, err := storage.GetBytes(ctx, c.store, fmt.Sprintf("s3://%s/%s", c.cfg.BucketName, csvKey))
	if err != nil {
		return "", fmt.Errorf("fetch results file: %w", err)
	}

	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse results file: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("results file %s is empty", csvKey)
	}
	rows := records[1:]
	c.log.Info("processing results", zap.Int("rows", len(rows)))

	perRow := make([]SpeciesData, len(rows))
	totals := make([]int, len(SpeciesNames))
	for i, row := range rows {
		if len(row) < 3 {
			perRow[i] = zeroData()
			continue
		}
		filename, folder := row[0], row[2]
		imageKey := path.Join("public", folder, filename)

		img, err := storage.GetBytes(ctx, c.store, fmt.Sprintf("s3://%s/%s", c.cfg.BucketName, imageKey))
		if err != nil {
			c.log.Warn("error fetching image", zap.String("key", imageKey), zap.Error(err))
			perRow[i] = zeroData()
			continue
		}
		perRow[i] = c.Classify(ctx, img, filename)
		for s, res := range perRow[i] {
			totals[s] += res.Count
		}
	}

	out := renderEnhanced(records[0], rows, perRow, totals)
	ts := c.now().Format("20060102_150405")
	key := fmt.Sprintf("%senhanced_bird_results_%s.csv", resultsPrefix, ts)
	if _, err := c.store.Put(ctx, fmt.Sprintf("s3://%s/%s", c.cfg.BucketName, key),
		bytes.NewReader(out), "text/csv"); err != nil {
		return "", fmt.Errorf("write enhanced results: %w", err)
	}
	c.log.Info("created enhanced results", zap.String("key", key))
	return key, nil
}

// renderEnhanced appends the per-species columns and the batch-wide total
// columns to the original rows.
func renderEnhanced(header []string, rows [][]string, perRow []SpeciesData, totals []int) []byte {
	outHeader := append([]string{}, header...)
	for _, s := range SpeciesNames {
		outHeader = append(outHeader, s+"_confidence", s+"_confidence_level", s+"_count")
	}
	for _, s := range SpeciesNames {
		outHeader = append(outHeader, "total_"+s+"_count")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(outHeader)
	for i, row := range rows {
		out := append([]string{}, row...)
		for _, res := range perRow[i] {
			out = append(out,
				strconv.FormatFloat(res.Confidence, 'f', 2, 64),
				res.Level,
				strconv.Itoa(res.Count))
		}
		for _, t := range totals {
			out = append(out, strconv.Itoa(t))
		}
		w.Write(out)
	}
	w.Flush()
	return buf.Bytes()
}
