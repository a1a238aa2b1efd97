package video

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
)

const tgaHeaderSize = 18

var (
	ErrShortFrame       = errors.New("video: frame shorter than its header")
	ErrUnsupportedFrame = errors.New("video: only uncompressed true-color TGA frames are supported")
)

// DecodeTGA decodes an uncompressed true-color TGA image (image type 2)
// with 24 or 32 bits per pixel.
func DecodeTGA(data []byte) (*image.NRGBA, error) {
	if len(data) < tgaHeaderSize {
		return nil, ErrShortFrame
	}
	idLen := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(binary.LittleEndian.Uint16(data[12:14]))
	height := int(binary.LittleEndian.Uint16(data[14:16]))
	bpp := int(data[16])
	descriptor := data[17]

	if colorMapType != 0 || imageType != 2 || (bpp != 24 && bpp != 32) {
		return nil, fmt.Errorf("%w: type %d, %d bpp", ErrUnsupportedFrame, imageType, bpp)
	}

	stride := bpp / 8
	pixels := data[tgaHeaderSize+idLen:]
	if need := width * height * stride; len(pixels) < need {
		return nil, fmt.Errorf("video: frame has %d pixel bytes, need %d", len(pixels), need)
	}

	topDown := descriptor&0x20 != 0
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := y
		if !topDown {
			row = height - 1 - y
		}
		src := pixels[y*width*stride:]
		for x := 0; x < width; x++ {
			p := src[x*stride:]
			c := color.NRGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
			if stride == 4 {
				c.A = p[3]
			}
			img.SetNRGBA(x, row, c)
		}
	}
	return img, nil
}
