// Package preprocess turns uploaded image bytes into model input tensors.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/Brownie44l1/garbage-api/internal/apperr"
	"github.com/Brownie44l1/garbage-api/internal/model"
)

// Decode parses JPEG or PNG bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", apperr.ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: image has no pixels", apperr.ErrInvalidImage)
	}
	return img, format, nil
}

// Normalize converts img to opaque RGB, stretches it to the target size with
// nearest-neighbour sampling (aspect ratio is not kept, matching training),
// scales bytes to [0,1] and lays the values out for a batch of one.
// Each target pixel copies the source pixel under its centre; no averaging
// happens when downscaling.
func Normalize(img image.Image, shape model.Shape) (*model.Tensor, error) {
	if shape.Height <= 0 || shape.Width <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", shape.Width, shape.Height)
	}
	if shape.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", shape.Channels)
	}

	rgb := toRGB(img)
	resized := image.NewRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	draw.NearestNeighbor.Scale(resized, resized.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)

	width, height := shape.Width, shape.Height
	plane := width * height
	data := make([]float32, 3*plane)

	bounds := resized.Bounds()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := pixel(resized, bounds.Min.X+x, bounds.Min.Y+y)
			rNorm := float32(r) / 255.0
			gNorm := float32(g) / 255.0
			bNorm := float32(b) / 255.0

			pixelIndex := y*width + x
			if shape.Layout == model.LayoutNCHW {
				data[pixelIndex] = rNorm
				data[plane+pixelIndex] = gNorm
				data[2*plane+pixelIndex] = bNorm
			} else {
				data[3*pixelIndex] = rNorm
				data[3*pixelIndex+1] = gNorm
				data[3*pixelIndex+2] = bNorm
			}
		}
	}

	return &model.Tensor{Shape: shape.Dims(), Data: data}, nil
}

// toRGB drops alpha without premultiplying, so transparent pixels keep
// their stored colour.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.RGBA); ok && src.Opaque() {
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
		return out
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := out.PixOffset(x, y)
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

func pixel(img image.Image, x, y int) (uint8, uint8, uint8) {
	if rgba, ok := img.(*image.RGBA); ok {
		i := rgba.PixOffset(x, y)
		return rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2]
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}
