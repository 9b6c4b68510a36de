package yuv

import (
	"fmt"
	"image"
)

// Plane is one component plane of a decoded picture. PixelStride is the
// distance in bytes between horizontally adjacent samples; 1 for planar data,
// 2 for the interleaved chroma of semi-planar data.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Image is a decoded 4:2:0 picture: Planes[0] is Y, Planes[1] is U (Cb) and
// Planes[2] is V (Cr). Crop selects the visible area; an empty Crop means
// the full Width x Height.
type Image struct {
	Width  int
	Height int
	Planes [3]Plane
	Crop   image.Rectangle
}

// Bounds returns the visible rectangle.
func (img *Image) Bounds() image.Rectangle {
	full := image.Rect(0, 0, img.Width, img.Height)
	if img.Crop.Empty() {
		return full
	}
	return img.Crop.Intersect(full)
}

// WrapI420 views packed I420 bytes as an Image without copying.
func WrapI420(data []byte, width, height int) (*Image, error) {
	if need := Size(FormatI420, width, height); len(data) < need {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrShortPlane, len(data), need)
	}
	cw, ch := ChromaSize(width, height)
	ySize, cSize := width*height, cw*ch
	return &Image{
		Width:  width,
		Height: height,
		Planes: [3]Plane{
			{Data: data[:ySize], RowStride: width, PixelStride: 1},
			{Data: data[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
			{Data: data[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
		},
	}, nil
}

// WrapNV21 views packed NV21 bytes as an Image without copying. The chroma
// planes share the interleaved buffer with a pixel stride of 2.
func WrapNV21(data []byte, width, height int) (*Image, error) {
	if need := Size(FormatNV21, width, height); len(data) < need {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrShortPlane, len(data), need)
	}
	cw, ch := ChromaSize(width, height)
	ySize := width * height
	vu := data[ySize : ySize+2*cw*ch]
	return &Image{
		Width:  width,
		Height: height,
		Planes: [3]Plane{
			{Data: data[:ySize], RowStride: width, PixelStride: 1},
			{Data: vu[1:], RowStride: 2 * cw, PixelStride: 2},
			{Data: vu, RowStride: 2 * cw, PixelStride: 2},
		},
	}, nil
}

// Convert packs the visible area of img into dst in the requested raw
// layout, growing dst only when its capacity is too small. Row strides,
// pixel strides and the crop origin are honored; rows with a pixel stride
// of 1 are copied whole.
func Convert(dst []byte, img *Image, f Format) ([]byte, error) {
	if !f.Raw() {
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return dst[:0], fmt.Errorf("empty picture %dx%d", w, h)
	}

	dst = grow(dst, Size(f, w, h))
	cw, ch := ChromaSize(w, h)
	cx, cy := r.Min.X/2, r.Min.Y/2
	ySize, cSize := w*h, cw*ch

	if err := copyPlane(dst[:ySize], 1, &img.Planes[0], r.Min.X, r.Min.Y, w, h); err != nil {
		return dst, fmt.Errorf("luma: %w", err)
	}

	var uOut, vOut []byte
	outStride := 1
	switch f {
	case FormatNV21:
		vOut, uOut = dst[ySize:], dst[ySize+1:]
		outStride = 2
	case FormatI420:
		uOut, vOut = dst[ySize:ySize+cSize], dst[ySize+cSize:]
	}

	if err := copyPlane(uOut, outStride, &img.Planes[1], cx, cy, cw, ch); err != nil {
		return dst, fmt.Errorf("chroma u: %w", err)
	}
	if err := copyPlane(vOut, outStride, &img.Planes[2], cx, cy, cw, ch); err != nil {
		return dst, fmt.Errorf("chroma v: %w", err)
	}
	return dst, nil
}

// copyPlane copies a w x h window starting at (x0, y0) of p into out,
// writing samples outStride bytes apart.
func copyPlane(out []byte, outStride int, p *Plane, x0, y0, w, h int) error {
	ps := p.PixelStride
	if ps < 1 {
		ps = 1
	}
	rs := p.RowStride
	if rs < 1 {
		rs = w * ps
	}

	// The final row of a plane may end right after its last sample.
	last := (y0+h-1)*rs + (x0+w-1)*ps
	if last >= len(p.Data) {
		return fmt.Errorf("%w: need index %d, have %d bytes", ErrShortPlane, last, len(p.Data))
	}

	if ps == 1 && outStride == 1 {
		for row := range h {
			src := (y0+row)*rs + x0
			copy(out[row*w:row*w+w], p.Data[src:src+w])
		}
		return nil
	}

	o := 0
	for row := range h {
		src := (y0+row)*rs + x0*ps
		for col := 0; col < w; col++ {
			out[o] = p.Data[src+col*ps]
			o += outStride
		}
	}
	return nil
}

// YCbCr returns a standard library view of the visible area. Only planar
// pictures (pixel stride 1 everywhere) can be viewed without copying; other
// layouts are repacked to I420 first.
func (img *Image) YCbCr() (*image.YCbCr, error) {
	planar := true
	for i := range img.Planes {
		if img.Planes[i].PixelStride > 1 {
			planar = false
		}
	}

	src := img
	if !planar {
		packed, err := Convert(nil, img, FormatI420)
		if err != nil {
			return nil, err
		}
		r := img.Bounds()
		if src, err = WrapI420(packed, r.Dx(), r.Dy()); err != nil {
			return nil, err
		}
	}

	full := &image.YCbCr{
		Y:              src.Planes[0].Data,
		Cb:             src.Planes[1].Data,
		Cr:             src.Planes[2].Data,
		YStride:        src.Planes[0].RowStride,
		CStride:        src.Planes[1].RowStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, src.Width, src.Height),
	}
	if b := src.Bounds(); b != full.Rect {
		if sub, ok := full.SubImage(b).(*image.YCbCr); ok {
			return sub, nil
		}
	}
	return full, nil
}

func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}
