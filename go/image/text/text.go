// Package text contains an image plain text file format encoder and decoder.
//
// A super simple format of the form:
//
// ! SNAPGOLDTEXT
// width height
// 0x000000ff 0xffffffff ...
// 0xddddddff 0xffffff88 ...
// ...
//
// Where the pixel values are encoded as 0xRRGGBBAA.
//
// Grayscale pixels can be encoded as 0xXX. The two images below are equivalent:
//
// ! SNAPGOLDTEXT
// 2 2
// 0x00 0x11
// 0xaa 0xbb
//
// ! SNAPGOLDTEXT
// 2 2
// 0x000000ff 0x111111ff
// 0xaaaaaaff 0xbbbbbbff
//
// The format exists so that test baselines and fixtures can be written, read
// and diffed as plain text.
package text

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"
)

const textHeader = "! SNAPGOLDTEXT\n"

// dim reads the header and the dimension line and returns the image dimensions.
func dim(reader *bufio.Reader) (int, int, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read header: %s", err)
	}
	if line != textHeader {
		return 0, 0, fmt.Errorf("wrong magic, not a text image: %q", line)
	}
	line, err = reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return 0, 0, fmt.Errorf("failed to read dimensions: %s", err)
	}
	var width, height int
	n, err := fmt.Sscanf(line, "%d %d", &width, &height)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid dimension line: %s", err)
	}
	if n != 2 {
		return 0, 0, fmt.Errorf("invalid dimension line, need width and height: %q", line)
	}
	return width, height, nil
}

// parsePixel parses a single 0xRRGGBBAA or 0xXX (grayscale) pixel value.
func parsePixel(h string) (r, g, b, a uint8, err error) {
	if !strings.HasPrefix(h, "0x") || (len(h) != 4 && len(h) != 10) {
		return 0, 0, 0, 0, fmt.Errorf("invalid pixel %q, must be 0xRRGGBBAA or 0xXX", h)
	}
	pixel, err := strconv.ParseUint(h, 0, 32)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if len(h) == 10 {
		// Color notation.
		r = uint8((pixel >> 24) & 0xff)
		g = uint8((pixel >> 16) & 0xff)
		b = uint8((pixel >> 8) & 0xff)
		a = uint8(pixel & 0xff)
	} else {
		// Grayscale notation.
		r = uint8(pixel)
		g = uint8(pixel)
		b = uint8(pixel)
		a = 0xff
	}
	return r, g, b, a, nil
}

// Decode reads a text image from r and returns it as an image.Image. The type
// of Image returned will always be NRGBA.
func Decode(r io.Reader) (image.Image, error) {
	reader := bufio.NewReader(r)
	width, height, err := dim(reader)
	if err != nil {
		return nil, err
	}
	ret := image.NewNRGBA(image.Rect(0, 0, width, height))
	lineNum := 0
	var readErr error
	for readErr == nil {
		var line string
		line, readErr = reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			break
		}
		pixels := strings.Fields(line)
		if len(pixels) > width {
			return nil, fmt.Errorf("too many pixels in row %d: %d > %d", lineNum, len(pixels), width)
		}
		if len(pixels) > 0 && lineNum >= height {
			return nil, fmt.Errorf("too many rows: %d >= %d", lineNum+1, height)
		}
		for i, h := range pixels {
			r, g, b, a, err := parsePixel(h)
			if err != nil {
				return nil, err
			}
			offset := lineNum*ret.Stride + i*4
			ret.Pix[offset+0] = r
			ret.Pix[offset+1] = g
			ret.Pix[offset+2] = b
			ret.Pix[offset+3] = a
		}
		if len(pixels) > 0 {
			lineNum++
		}
	}
	if readErr == nil || readErr == io.EOF {
		return ret, nil
	}
	return nil, fmt.Errorf("failed reading image contents: %s", readErr)
}

// DecodeConfig returns the color model and dimensions of a text image without
// decoding the entire image.
func DecodeConfig(r io.Reader) (image.Config, error) {
	reader := bufio.NewReader(r)
	width, height, err := dim(reader)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      width,
		Height:     height,
	}, nil
}

// Encode encodes the image in the text format.
func Encode(w io.Writer, m *image.NRGBA) error {
	width := m.Bounds().Dx()
	height := m.Bounds().Dy()
	if _, err := fmt.Fprintf(w, "%s%d %d\n", textHeader, width, height); err != nil {
		return err
	}
	for y := 0; y < height; y++ {
		// Reslice per row, the stride of a sub-image exceeds its width.
		row := m.Pix[m.PixOffset(m.Rect.Min.X, m.Rect.Min.Y+y):]
		for x := 0; x < width; x++ {
			i := x * 4
			if _, err := fmt.Fprintf(w, "0x%02x%02x%02x%02x", row[i+0], row[i+1], row[i+2], row[i+3]); err != nil {
				return err
			}
			if x < width-1 {
				if _, err := fmt.Fprint(w, " "); err != nil {
					return err
				}
			}
		}
		// Don't add a trailing \n to the very last line.
		if y < height-1 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	image.RegisterFormat("snapgoldtext", textHeader, Decode, DecodeConfig)
}

// MustToNRGBA returns an *image.NRGBA from a given string, which is assumed to
// be a text format image. It panics if the string cannot be processed into an
// image, suitable only for testing code.
func MustToNRGBA(s string) *image.NRGBA {
	img, err := Decode(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("Failed to decode a valid image: %s", err))
	}
	return img.(*image.NRGBA)
}
