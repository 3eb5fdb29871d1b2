package types

// SurveyParams starts one pipeline run for a single uploaded object.
type SurveyParams struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"` // s3 object key of the uploaded archive or image
}

// ImageRef points at one extracted image already persisted in the object store.
// Activities pass refs instead of raw bytes to keep payloads small.
type ImageRef struct {
	Filename string `json:"filename"` // sanitized, no path components
	Key      string `json:"key"`      // full object key under public/
}

// ExtractResult is the output of the extraction activity.
type ExtractResult struct {
	Folder  string     `json:"extraction_folder"` // grouping label, e.g. extracted/<name>-<ts> or "uploads"
	Images  []ImageRef `json:"images"`
	Skipped int        `json:"skipped"` // metadata + disallowed entries
}

// ExtractedImage is a single sanitized image held in memory during one run.
type ExtractedImage struct {
	Filename string
	Data     []byte
}

// ClassificationResult is one immutable per-image count.
type ClassificationResult struct {
	Filename  string `json:"filename"`
	BirdCount int    `json:"bird_count"`
	Folder    string `json:"extraction_folder"`
}

// ResultBatch is the ordered set of results sharing one extraction folder.
type ResultBatch struct {
	Folder  string                 `json:"extraction_folder"`
	Results []ClassificationResult `json:"results"`
}

// TotalBirds sums counts across the batch.
func (b ResultBatch) TotalBirds() int {
	var n int
	for _, r := range b.Results {
		n += r.BirdCount
	}
	return n
}

// PersistResult reports where the stage-one record landed.
type PersistResult struct {
	CSVKey string `json:"csv_key"`
}

// TriggerParams asks the orchestrator to kick off stage two for a record.
type TriggerParams struct {
	Bucket string `json:"bucket"`
	CSVKey string `json:"csv_key"`
	Folder string `json:"extraction_folder"`
}

// SurveyResult is the workflow's terminal summary.
type SurveyResult struct {
	CSVKey         string `json:"csv_key"`
	Folder         string `json:"extraction_folder"`
	Images         int    `json:"images"`
	TotalBirds     int    `json:"total_birds"`
	Skipped        bool   `json:"skipped"` // true when the object was neither a zip nor an image
	SkippedEntries int    `json:"skipped_entries"`
}
