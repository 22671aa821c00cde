package archive

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/snappy"

	"github.com/starcut/starcut/internal/errors"
)

// encodeImage packs a float32 image into little-endian bytes and
// compresses it with snappy. Cutout planes are mostly smooth sky so
// they compress well.
func encodeImage(pixels []float32) []byte {
	raw := make([]byte, 4*len(pixels))
	for i, v := range pixels {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return snappy.Encode(nil, raw)
}

// decodeImage reverses encodeImage. expectedLen guards against blobs
// from a partition written with a different cutout size; pass 0 to skip
// the check.
func decodeImage(blob []byte, expectedLen int) ([]float32, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			"image blob is not valid snappy data", err)
	}
	if len(raw)%4 != 0 {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("image blob length %d not a multiple of 4", len(raw)), nil)
	}
	n := len(raw) / 4
	if expectedLen > 0 && n != expectedLen {
		return nil, errors.NewArchiveError(errors.CodeCorruptGroup,
			fmt.Sprintf("image blob holds %d pixels, expected %d", n, expectedLen), nil)
	}
	pixels := make([]float32, n)
	for i := range pixels {
		pixels[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return pixels, nil
}
