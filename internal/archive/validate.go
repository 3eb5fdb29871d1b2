package archive

import (
	"archive/zip"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/metrics"
)

const (
	// maxFileSize caps a single uploaded object.
	maxFileSize = 5 * 1024 * 1024 * 1024 // 5GB
	// maxEntries caps the archive entry table.
	maxEntries = 10000
	// maxTotalUncompressed allows legitimate expansion while bounding bombs.
	maxTotalUncompressed = maxFileSize * 10
	// suspiciousRatio marks a per-entry compression ratio worth logging.
	// Ratio violations are observed, never enforced: screenshot-heavy PNG
	// batches legitimately exceed it.
	suspiciousRatio = 100
)

// maliciousPatterns match filenames we refuse to touch regardless of content.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),          // path traversal
	regexp.MustCompile(`(?i)<script`),    // XSS attempts
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\.exe$`),
	regexp.MustCompile(`(?i)\.bat$`),
	regexp.MustCompile(`(?i)\.cmd$`),
	regexp.MustCompile(`(?i)\.scr$`),
	regexp.MustCompile(`(?i)\.pif$`),
}

// ValidationError rejects a whole archive before any extraction.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "archive validation failed: " + e.Reason
}

// Validator inspects archive entry tables for bomb and traversal risk.
// It never reads entry data.
type Validator struct {
	log *zap.Logger
}

func NewValidator(log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{log: log}
}

// Validate walks the entry table once and enforces, in order: the entry-count
// cap, the cumulative uncompressed-size cap, and the per-entry filename
// security check. The first violation fails the whole archive.
func (v *Validator) Validate(zr *zip.Reader) error {
	var count int
	var totalUncompressed uint64
	for _, f := range zr.File {
		count++
		if count > maxEntries {
			metrics.ArchivesRejected.Inc()
			v.log.Error("archive contains too many entries", zap.Int("entries", count))
			return &ValidationError{Reason: "too many entries"}
		}

		totalUncompressed += f.UncompressedSize64
		if totalUncompressed > maxTotalUncompressed {
			metrics.ArchivesRejected.Inc()
			v.log.Error("archive uncompressed size too large", zap.Uint64("bytes", totalUncompressed))
			return &ValidationError{Reason: "uncompressed size too large"}
		}

		if f.CompressedSize64 > 0 {
			ratio := float64(f.UncompressedSize64) / float64(f.CompressedSize64)
			if ratio > suspiciousRatio {
				metrics.SuspiciousEntries.Inc()
				v.log.Warn("suspicious compression ratio",
					zap.String("entry", f.Name), zap.Float64("ratio", ratio))
			}
		}

		if !CheckFilename(f.Name) {
			metrics.ArchivesRejected.Inc()
			v.log.Error("malicious filename in archive", zap.String("entry", f.Name))
			return &ValidationError{Reason: fmt.Sprintf("malicious filename: %s", f.Name)}
		}
	}
	return nil
}

// CheckFilename reports whether a name is safe to handle. The check is
// content-agnostic: denylisted patterns, length over 255 bytes, or an
// embedded NUL byte reject the name.
func CheckFilename(name string) bool {
	for _, p := range maliciousPatterns {
		if p.MatchString(name) {
			return false
		}
	}
	if len(name) > 255 {
		return false
	}
	if strings.ContainsRune(name, '\x00') {
		return false
	}
	return true
}
