package species

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	// Decoders for the extraction allow-list.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// endpointEdge is the square input size the species model expects.
const endpointEdge = 224

// normalizeImage decodes any allow-listed format and re-encodes it as a
// 224x224 RGB JPEG, the endpoint's input contract.
func normalizeImage(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, endpointEdge, endpointEdge))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, nil); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
