package yuv

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	// Registered decoders for still images.
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// StillQuality is the JPEG quality used for substituted photos.
const StillQuality = 100

// LoadStill decodes a BMP, PNG or JPEG still image.
func LoadStill(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open still: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode still %s: %w", path, err)
	}
	return img, nil
}

// EncodeJPEG writes img as a baseline JPEG.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

// Encode renders a decoded picture in format f. Raw formats go through
// Convert; JPEG is encoded from the picture's YCbCr view into dst's storage.
func Encode(dst []byte, img *Image, f Format, quality int) ([]byte, error) {
	if f.Raw() {
		return Convert(dst, img, f)
	}
	if f != FormatJPEG {
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	view, err := img.YCbCr()
	if err != nil {
		return dst, err
	}
	buf := bytes.NewBuffer(dst[:0])
	if err := EncodeJPEG(buf, view, quality); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}

// EncodeStill renders a still image in format f for a picture callback.
func EncodeStill(dst []byte, img image.Image, f Format) ([]byte, error) {
	if f.Raw() {
		return FromImage(dst, img, f)
	}
	if f != FormatJPEG {
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	buf := bytes.NewBuffer(dst[:0])
	if err := EncodeJPEG(buf, img, StillQuality); err != nil {
		return dst, err
	}
	return buf.Bytes(), nil
}
