package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

const Channels = 3

// MaxPixels rejects decompression bombs before the pixel data is decoded.
const MaxPixels = 2 * 89478485

var (
	ErrDecode     = errors.New("invalid image data")
	ErrTooLarge   = errors.New("image dimensions too large")
	ErrPreprocess = errors.New("image preprocessing failed")
)

// Tensor is a batch of one image in NHWC layout.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Decode sniffs the format from the content, never from the filename. Images
// above MaxPixels fail with ErrTooLarge (and ErrDecode) without being decoded.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty content", ErrDecode)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > MaxPixels {
		return nil, "", fmt.Errorf("%w: %w: %dx%d is %d pixels, limit %d",
			ErrDecode, ErrTooLarge, cfg.Width, cfg.Height, pixels, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return img, format, nil
}

// ToTensor converts an image to the format expected by the model:
// RGB, size x size, bicubic resampling, channels scaled to [0,1].
func ToTensor(img image.Image, size int) (*Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrPreprocess)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %d", ErrPreprocess, size)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrPreprocess)
	}

	resized := resize.Resize(uint(size), uint(size), toRGB(img), resize.Bicubic)

	bounds := resized.Bounds()
	if bounds.Dx() != size || bounds.Dy() != size {
		return nil, fmt.Errorf("%w: resized to %dx%d, want %dx%d",
			ErrPreprocess, bounds.Dx(), bounds.Dy(), size, size)
	}

	data := make([]float32, size*size*Channels)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := (y*size + x) * Channels
			data[i] = float32(r>>8) / 255.0
			data[i+1] = float32(g>>8) / 255.0
			data[i+2] = float32(b>>8) / 255.0
		}
	}

	return &Tensor{
		Shape: []int64{1, int64(size), int64(size), Channels},
		Data:  data,
	}, nil
}

// toRGB drops alpha without compositing, so a transparent pixel keeps its
// stored color.
func toRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}

	return out
}
