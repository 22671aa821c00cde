package tile

import (
	"fmt"
	"os"

	"github.com/astrogo/fitsio"

	"github.com/starcut/starcut/internal/errors"
)

// Default extension layout for calibrated mosaic products: the primary
// HDU carries no data, the first extension is the flux image and the
// second its weight map.
const (
	FluxHDU   = 1
	WeightHDU = 2
)

// Open loads a tile from a multi-extension FITS file. The flux extension
// supplies the WCS header. The whole pixel grid is read into memory;
// callers release it by dropping the returned Tile.
func Open(name, path string) (*Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewTileError(errors.CodeTileNotFound,
			fmt.Sprintf("cannot open tile %s", name), err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, errors.NewTileError(errors.CodeTileMalformed,
			fmt.Sprintf("cannot parse tile %s", name), err)
	}
	defer fits.Close()

	if len(fits.HDUs()) <= WeightHDU {
		return nil, errors.NewTileError(errors.CodeTileMalformed,
			fmt.Sprintf("tile %s has %d HDUs, want flux and weight extensions", name, len(fits.HDUs())), nil)
	}

	fluxHDU := fits.HDU(FluxHDU)
	wcs, width, height, err := wcsFromHeader(fluxHDU.Header())
	if err != nil {
		return nil, errors.NewTileError(errors.CodeInvalidWCS,
			fmt.Sprintf("tile %s", name), err)
	}

	flux, err := readImage(fluxHDU, width*height)
	if err != nil {
		return nil, errors.NewTileError(errors.CodeTileMalformed,
			fmt.Sprintf("tile %s flux extension", name), err)
	}
	weight, err := readImage(fits.HDU(WeightHDU), width*height)
	if err != nil {
		return nil, errors.NewTileError(errors.CodeTileMalformed,
			fmt.Sprintf("tile %s weight extension", name), err)
	}

	return New(name, width, height, flux, weight, wcs)
}

// OpenFootprint reads only the flux extension header of a FITS tile,
// returning its footprint without loading pixel data. This is what the
// assigner uses to hold every tile's boundary at once.
func OpenFootprint(name, path string) (Footprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Footprint{}, errors.NewTileError(errors.CodeTileNotFound,
			fmt.Sprintf("cannot open tile %s", name), err)
	}
	defer f.Close()

	fits, err := fitsio.Open(f)
	if err != nil {
		return Footprint{}, errors.NewTileError(errors.CodeTileMalformed,
			fmt.Sprintf("cannot parse tile %s", name), err)
	}
	defer fits.Close()

	if len(fits.HDUs()) <= FluxHDU {
		return Footprint{}, errors.NewTileError(errors.CodeTileMalformed,
			fmt.Sprintf("tile %s has no flux extension", name), nil)
	}

	wcs, width, height, err := wcsFromHeader(fits.HDU(FluxHDU).Header())
	if err != nil {
		return Footprint{}, errors.NewTileError(errors.CodeInvalidWCS,
			fmt.Sprintf("tile %s", name), err)
	}
	return Footprint{Tile: name, Width: width, Height: height, WCS: wcs}, nil
}

// wcsFromHeader extracts the TAN transform and image dimensions from a
// FITS image header.
func wcsFromHeader(hdr *fitsio.Header) (*WCS, int, int, error) {
	axes := hdr.Axes()
	if len(axes) < 2 || axes[0] <= 0 || axes[1] <= 0 {
		return nil, 0, 0, fmt.Errorf("image has no 2D axes")
	}
	width, height := axes[0], axes[1]

	wcs := &WCS{}
	for _, want := range []struct {
		key string
		dst *float64
	}{
		{"CRVAL1", &wcs.CRVal1},
		{"CRVAL2", &wcs.CRVal2},
		{"CRPIX1", &wcs.CRPix1},
		{"CRPIX2", &wcs.CRPix2},
		{"CD1_1", &wcs.CD11},
		{"CD1_2", &wcs.CD12},
		{"CD2_1", &wcs.CD21},
		{"CD2_2", &wcs.CD22},
	} {
		card := hdr.Get(want.key)
		if card == nil {
			return nil, 0, 0, fmt.Errorf("missing header card %s", want.key)
		}
		v, err := cardFloat(card.Value)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("header card %s: %w", want.key, err)
		}
		*want.dst = v
	}

	if err := wcs.Validate(); err != nil {
		return nil, 0, 0, err
	}
	return wcs, width, height, nil
}

// cardFloat coerces a FITS header card value to float64.
func cardFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

// readImage reads an image HDU's pixels as float32, accepting the float
// encodings produced by survey pipelines.
func readImage(hdu fitsio.HDU, n int) ([]float32, error) {
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("HDU %q is not an image", hdu.Name())
	}

	switch img.Header().Bitpix() {
	case -32:
		data := make([]float32, 0, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("reading float32 image: %w", err)
		}
		if len(data) != n {
			return nil, fmt.Errorf("image has %d pixels, want %d", len(data), n)
		}
		return data, nil
	case -64:
		data := make([]float64, 0, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("reading float64 image: %w", err)
		}
		if len(data) != n {
			return nil, fmt.Errorf("image has %d pixels, want %d", len(data), n)
		}
		out := make([]float32, n)
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", img.Header().Bitpix())
	}
}
