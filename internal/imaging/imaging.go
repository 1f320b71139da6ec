// Package imaging holds the decode, crop, resize and tensor conversion
// helpers shared by the face detector and the embedding generator.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for zero-length input or zero-area images.
var ErrEmptyImage = errors.New("empty image")

// Layout is the memory order of a model input tensor.
type Layout string

const (
	LayoutNCHW Layout = "nchw"
	LayoutNHWC Layout = "nhwc"
)

// Normalization selects how 8-bit pixels are mapped into model input space.
type Normalization string

const (
	// NormArcFace maps pixels with (p - 127.5) / 127.5 into [-1, 1].
	NormArcFace Normalization = "arcface"
	// NormFaceNet prewhitens: (p - mean) / max(std, 1/sqrt(n)) over the whole crop.
	NormFaceNet Normalization = "facenet"
	// NormUnit maps pixels with p / 255 into [0, 1].
	NormUnit Normalization = "unit"
	// NormRetinaFace is the detector input mapping (p - 127.5) / 128.
	NormRetinaFace Normalization = "retinaface"
)

// Decode decodes JPEG, PNG, GIF, BMP or WebP data and reports the format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// Resize scales img to exactly targetW x targetH using bilinear interpolation.
func Resize(img image.Image, targetW, targetH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// CropFace extracts the region inside bbox (x1, y1, x2, y2) with pad
// (a fraction of the box size) added on each side, clamped to the image.
// It returns nil when the box does not intersect the image.
func CropFace(img image.Image, bbox [4]float32, pad float32) image.Image {
	bounds := img.Bounds()

	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * pad)
	padH := int(float32(h) * pad)
	rect := image.Rect(x1-padW, y1-padH, x2+padW, y2+padH).Intersect(bounds)
	if rect.Empty() {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)
	return crop
}

// ParseNormalization maps a config value onto a Normalization.
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(s); n {
	case NormArcFace, NormFaceNet, NormUnit, NormRetinaFace:
		return n, nil
	}
	return "", fmt.Errorf("unknown normalization %q", s)
}

// ToTensor resizes img to targetW x targetH and converts it to a float32
// tensor in the given layout and normalization.
func ToTensor(img image.Image, targetW, targetH int, layout Layout, norm Normalization) []float32 {
	return Pack(Resize(img, targetW, targetH), layout, norm)
}

// Letterbox scales img to fit a size x size canvas without changing its
// aspect ratio. The image sits in the top-left corner and the rest stays
// black. scale maps source pixels to canvas pixels.
func Letterbox(img image.Image, size int) (canvas *image.RGBA, scale float32) {
	canvas = image.NewRGBA(image.Rect(0, 0, size, size))
	b := img.Bounds()
	if b.Empty() {
		return canvas, 0
	}

	scale = float32(size) / float32(max(b.Dx(), b.Dy()))
	w := max(1, int(float32(b.Dx())*scale))
	h := max(1, int(float32(b.Dy())*scale))
	draw.BiLinear.Scale(canvas, image.Rect(0, 0, w, h), img, b, draw.Src, nil)
	return canvas, scale
}

// Pack converts every pixel of img into a float32 tensor.
func Pack(img *image.RGBA, layout Layout, norm Normalization) []float32 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	n := w * h

	data := make([]float32, 3*n)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])

			idx := y*w + x
			if layout == LayoutNHWC {
				data[idx*3], data[idx*3+1], data[idx*3+2] = r, g, b
			} else {
				data[idx], data[n+idx], data[2*n+idx] = r, g, b
			}
		}
	}

	normalize(data, norm)
	return data
}

func normalize(data []float32, norm Normalization) {
	switch norm {
	case NormFaceNet:
		var sum float64
		for _, v := range data {
			sum += float64(v)
		}
		mean := sum / float64(len(data))

		var sq float64
		for _, v := range data {
			d := float64(v) - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(len(data)))
		std = math.Max(std, 1/math.Sqrt(float64(len(data))))

		for i, v := range data {
			data[i] = float32((float64(v) - mean) / std)
		}
	case NormUnit:
		for i, v := range data {
			data[i] = v / 255
		}
	case NormRetinaFace:
		for i, v := range data {
			data[i] = (v - 127.5) / 128
		}
	default:
		for i, v := range data {
			data[i] = (v - 127.5) / 127.5
		}
	}
}

// LaplacianVariance measures sharpness as the variance of the 4-neighbour
// Laplacian over the grayscale image. Flat images score 0.
func LaplacianVariance(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
	}

	var sum, sq float64
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			lap := gray[i-w] + gray[i+w] + gray[i-1] + gray[i+1] - 4*gray[i]
			sum += lap
			sq += lap * lap
			count++
		}
	}

	mean := sum / float64(count)
	return sq/float64(count) - mean*mean
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
