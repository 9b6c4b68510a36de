package yuv

import (
	"fmt"
	"image"
)

// BT.601 studio-swing coefficients in 8.8 fixed point.
func rgbToY(r, g, b int) byte {
	return byte(clamp(((66*r+129*g+25*b+128)>>8)+16, 16, 235))
}

func rgbToU(r, g, b int) int {
	return clamp(((-38*r-74*g+112*b+128)>>8)+128, 0, 255)
}

func rgbToV(r, g, b int) int {
	return clamp(((112*r-94*g-18*b+128)>>8)+128, 0, 255)
}

// FromImage converts an RGB image into a raw 4:2:0 layout at full
// resolution. Each chroma sample is the mean of the 2x2 block it covers
// (fewer pixels at odd right and bottom edges). dst is reused when large enough.
func FromImage(dst []byte, src image.Image, f Format) ([]byte, error) {
	if !f.Raw() {
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return dst[:0], fmt.Errorf("empty image %dx%d", w, h)
	}

	dst = grow(dst, Size(f, w, h))
	cw, ch := ChromaSize(w, h)
	ySize, cSize := w*h, cw*ch
	px := pixelReader(src)

	for cy := range ch {
		for cx := range cw {
			var sumU, sumV, n int
			for dy := range 2 {
				y := cy*2 + dy
				if y >= h {
					break
				}
				for dx := range 2 {
					x := cx*2 + dx
					if x >= w {
						break
					}
					r, g, bl := px(b.Min.X+x, b.Min.Y+y)
					dst[y*w+x] = rgbToY(r, g, bl)
					sumU += rgbToU(r, g, bl)
					sumV += rgbToV(r, g, bl)
					n++
				}
			}
			u := byte((sumU + n/2) / n)
			v := byte((sumV + n/2) / n)

			i := cy*cw + cx
			switch f {
			case FormatNV21:
				dst[ySize+2*i] = v
				dst[ySize+2*i+1] = u
			case FormatI420:
				dst[ySize+i] = u
				dst[ySize+cSize+i] = v
			}
		}
	}
	return dst, nil
}

// ToRGBA decodes a packed raw frame back to RGBA. It is the inverse of
// FromImage up to chroma subsampling and rounding.
func ToRGBA(data []byte, width, height int, f Format) (*image.RGBA, error) {
	var (
		img *Image
		err error
	)
	switch f {
	case FormatNV21:
		img, err = WrapNV21(data, width, height)
	case FormatI420:
		img, err = WrapI420(data, width, height)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, err
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	yp, up, vp := &img.Planes[0], &img.Planes[1], &img.Planes[2]
	for y := range height {
		for x := range width {
			c := int(yp.Data[y*yp.RowStride+x]) - 16
			d := int(up.Data[(y/2)*up.RowStride+(x/2)*up.PixelStride]) - 128
			e := int(vp.Data[(y/2)*vp.RowStride+(x/2)*vp.PixelStride]) - 128

			o := out.PixOffset(x, y)
			out.Pix[o] = byte(clamp((298*c+409*e+128)>>8, 0, 255))
			out.Pix[o+1] = byte(clamp((298*c-100*d-208*e+128)>>8, 0, 255))
			out.Pix[o+2] = byte(clamp((298*c+516*d+128)>>8, 0, 255))
			out.Pix[o+3] = 0xff
		}
	}
	return out, nil
}

// Luma returns the BT.601 luma of an 8-bit RGB triple.
func Luma(r, g, b uint8) uint8 {
	return rgbToY(int(r), int(g), int(b))
}

// pixelReader returns an 8-bit RGB accessor, direct for the common
// in-memory types and through color.Color otherwise.
func pixelReader(src image.Image) func(x, y int) (int, int, int) {
	switch img := src.(type) {
	case *image.RGBA:
		return func(x, y int) (int, int, int) {
			o := img.PixOffset(x, y)
			return int(img.Pix[o]), int(img.Pix[o+1]), int(img.Pix[o+2])
		}
	case *image.NRGBA:
		return func(x, y int) (int, int, int) {
			o := img.PixOffset(x, y)
			return int(img.Pix[o]), int(img.Pix[o+1]), int(img.Pix[o+2])
		}
	default:
		return func(x, y int) (int, int, int) {
			r, g, b, _ := src.At(x, y).RGBA()
			return int(r >> 8), int(g >> 8), int(b >> 8)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
