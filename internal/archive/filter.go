package archive

import (
	"archive/zip"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/metrics"
	"github.com/yourorg/bird-survey/internal/types"
)

// allowedExtensions is the image allow-list for extraction and single uploads.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
}

// IsImage reports whether the name carries an allow-listed image extension.
// The security check runs first so a denylisted name never counts as an image.
func IsImage(name string) bool {
	if !CheckFilename(name) {
		return false
	}
	lower := strings.ToLower(name)
	i := strings.LastIndexByte(lower, '.')
	if i < 0 {
		return false
	}
	return allowedExtensions[lower[i:]]
}

// IsMetadata reports platform metadata noise (macOS resource forks, Finder
// droppings, Windows thumbnails) that is skipped without being logged as a
// failure.
func IsMetadata(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "__macosx/") ||
		strings.HasPrefix(lower, ".ds_store") ||
		strings.HasSuffix(lower, ".ds_store") ||
		strings.HasPrefix(lower, "._") ||
		strings.Contains(lower, "/._") ||
		lower == "thumbs.db"
}

// ExtractImages reads every image entry from a validated archive, in entry
// order. Metadata and non-image entries are skipped; a failed entry read is
// logged and skipped without aborting its siblings. The returned skipped
// count covers metadata and disallowed entries.
func ExtractImages(zr *zip.Reader, log *zap.Logger) (images []types.ExtractedImage, skipped int) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		if IsMetadata(name) {
			metrics.EntriesSkipped.Inc()
			skipped++
			log.Debug("skipping metadata entry", zap.String("entry", name))
			continue
		}
		if !IsImage(name) {
			metrics.EntriesSkipped.Inc()
			skipped++
			log.Info("skipping non-image entry", zap.String("entry", name))
			continue
		}

		data, err := readEntry(f)
		if err != nil {
			log.Error("failed to read archive entry", zap.String("entry", name), zap.Error(err))
			continue
		}
		clean := SanitizeFilename(name)
		images = append(images, types.ExtractedImage{Filename: clean, Data: data})
		metrics.ImagesExtracted.Inc()
		log.Debug("extracted image", zap.String("filename", clean), zap.Int("bytes", len(data)))
	}
	return images, skipped
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
