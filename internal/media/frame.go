package media

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"

	"golang.org/x/image/draw"
)

// ErrEmptyFrame is returned when a frame scales to zero size, which happens
// before a video element has decoded its first picture.
var ErrEmptyFrame = errors.New("media: frame has no pixels")

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 512*1024 {
		return
	}
	bufferPool.Put(buf)
}

// ScaledSize returns the size of a w x h frame after scaling by factor.
// Both are zero when the scaled frame would be empty.
func ScaledSize(w, h int, factor float64) (int, int) {
	sw := int(float64(w) * factor)
	sh := int(float64(h) * factor)
	if sw+sh == 0 {
		return 0, 0
	}
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

// ScaleImage resizes img by factor (0, 1] with bilinear filtering.
func ScaleImage(img image.Image, factor float64) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrEmptyFrame
	}
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), factor)
	if w+h == 0 {
		return nil, ErrEmptyFrame
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

// EncodeJPEG encodes an image as JPEG with the specified quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	buf := getBuffer()
	defer putBuffer(buf)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// EncodeFrame scales a captured frame and returns it as an image/jpeg chunk.
func EncodeFrame(img image.Image, factor float64, quality int) (Chunk, error) {
	scaled, err := ScaleImage(img, factor)
	if err != nil {
		return Chunk{}, err
	}
	data, err := EncodeJPEG(scaled, quality)
	if err != nil {
		return Chunk{}, err
	}
	return NewImageChunk(data), nil
}
