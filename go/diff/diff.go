// Package diff computes the similarity between two images.
//
// The [0, 1] similarity score used by assertions is produced by a perceptual
// pixel metric. PixelDiff additionally produces per-channel diff metrics and a
// false color visualization of the differences, for human review of failures.
package diff

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/orisano/pixelmatch"
	"github.com/pkg/errors"

	"github.com/snapgold/snapgold/go/util"
)

// DiffMetrics contains the per-pixel diff metrics between two images.
type DiffMetrics struct {
	// NumDiffPixels is the number of pixels that differ. Pixels outside the
	// overlapping region of two differently sized images always count as
	// different.
	NumDiffPixels int

	// PixelDiffPercent is the percentage of pixels that differ, in [0, 100].
	PixelDiffPercent float32

	// MaxRGBADiffs contains the maximum difference between the images for each
	// R/G/B/A channel.
	MaxRGBADiffs [4]int

	// DimDiffer is true if the dimensions of the compared images differ.
	DimDiffer bool
}

// Score returns the perceptual similarity of the two images as a value in
// [0, 1], where 1.0 means pixel-perfect and lower values indicate increasing
// dissimilarity.
//
// Both images are normalized to 8-bit NRGBA before the underlying metric is
// invoked, so the original pixel format never influences the score. An error
// from the metric (e.g. incompatible dimensions) is returned as-is; callers
// decide whether that is fatal.
func Score(expected, actual image.Image) (float64, error) {
	left := GetNRGBA(expected)
	right := GetNRGBA(actual)

	total := left.Bounds().Dx() * left.Bounds().Dy()
	if total == 0 && right.Bounds().Dx()*right.Bounds().Dy() == 0 {
		// Two empty images are trivially identical.
		return 1.0, nil
	}

	numDiff, err := pixelmatch.MatchPixel(left, right, pixelmatch.IncludeAntiAlias)
	if err != nil {
		return 0, errors.Wrap(err, "comparing images")
	}
	return 1.0 - float64(numDiff)/float64(total), nil
}

// OpenImage opens the specified PNG file and returns it as an image.Image.
func OpenImage(filePath string) (image.Image, error) {
	reader, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer util.Close(reader)
	im, err := png.Decode(reader)
	if err != nil {
		return nil, err
	}
	return im, nil
}

// PixelDiffColor contains the colors used in the diff visualization for pixels
// whose RGB values differ. The deltas are bucketed on a log scale, so the
// first color represents the smallest detectable difference and the last the
// largest.
var PixelDiffColor = [7]color.NRGBA{
	{R: 0xfd, G: 0xd0, B: 0xa2, A: 0xff},
	{R: 0xfd, G: 0xae, B: 0x6b, A: 0xff},
	{R: 0xfd, G: 0x8d, B: 0x3c, A: 0xff},
	{R: 0xf1, G: 0x69, B: 0x13, A: 0xff},
	{R: 0xd9, G: 0x48, B: 0x01, A: 0xff},
	{R: 0xa6, G: 0x36, B: 0x03, A: 0xff},
	{R: 0x7f, G: 0x27, B: 0x04, A: 0xff},
}

// PixelAlphaDiffColor contains the colors used for pixels that differ only in
// their alpha channel.
var PixelAlphaDiffColor = [7]color.NRGBA{
	{R: 0xc6, G: 0xdb, B: 0xef, A: 0xff},
	{R: 0x9e, G: 0xca, B: 0xe1, A: 0xff},
	{R: 0x6b, G: 0xae, B: 0xd6, A: 0xff},
	{R: 0x42, G: 0x92, B: 0xc6, A: 0xff},
	{R: 0x21, G: 0x71, B: 0xb5, A: 0xff},
	{R: 0x08, G: 0x51, B: 0x9c, A: 0xff},
	{R: 0x08, G: 0x30, B: 0x6b, A: 0xff},
}

// deltaOffset maps the summed channel difference of a pixel, in [1, 1020],
// onto an index into the diff color ramps.
func deltaOffset(n int) int {
	ret := int(math.Ceil(math.Log(float64(n)) / math.Log(3)))
	if ret > 6 {
		ret = 6
	}
	return ret
}

// diffColor returns the color used in the diff image for the given pair of
// differing pixels, along with the per-channel differences.
func diffColor(c1, c2 color.NRGBA) (color.NRGBA, [4]int) {
	diffs := [4]int{
		util.AbsInt(int(c1.R) - int(c2.R)),
		util.AbsInt(int(c1.G) - int(c2.G)),
		util.AbsInt(int(c1.B) - int(c2.B)),
		util.AbsInt(int(c1.A) - int(c2.A)),
	}
	rgbSum := diffs[0] + diffs[1] + diffs[2]
	if rgbSum == 0 {
		// The pixels differ only in their alpha.
		return PixelAlphaDiffColor[deltaOffset(diffs[3])], diffs
	}
	return PixelDiffColor[deltaOffset(rgbSum+diffs[3])], diffs
}

// PixelDiff computes the DiffMetrics for the provided images and returns them
// together with a diff image. In the diff image, identical pixels are
// transparent, differing pixels use the diff color ramps and any area outside
// the overlapping region of differently sized images uses the maximum diff
// color.
func PixelDiff(img1, img2 *image.NRGBA) (*DiffMetrics, *image.NRGBA) {
	img1Bounds := img1.Bounds()
	img2Bounds := img2.Bounds()

	// The region covered by both images.
	cmpWidth := util.MinInt(img1Bounds.Dx(), img2Bounds.Dx())
	cmpHeight := util.MinInt(img1Bounds.Dy(), img2Bounds.Dy())

	// The diff image covers the union of both dimensions. Start with every
	// pixel marked as maximally different, which takes care of the area not
	// inspected by the comparison loop below.
	resultWidth := util.MaxInt(img1Bounds.Dx(), img2Bounds.Dx())
	resultHeight := util.MaxInt(img1Bounds.Dy(), img2Bounds.Dy())
	resultImg := image.NewNRGBA(image.Rect(0, 0, resultWidth, resultHeight))
	draw.Draw(resultImg, resultImg.Bounds(), &image.Uniform{PixelDiffColor[6]}, image.Point{}, draw.Src)

	totalPixels := resultWidth * resultHeight
	numDiffPixels := totalPixels
	maxRGBADiffs := [4]int{}
	for x := 0; x < cmpWidth; x++ {
		for y := 0; y < cmpHeight; y++ {
			color1 := img1.NRGBAAt(img1Bounds.Min.X+x, img1Bounds.Min.Y+y)
			color2 := img2.NRGBAAt(img2Bounds.Min.X+x, img2Bounds.Min.Y+y)

			if color1 == color2 {
				numDiffPixels--
				resultImg.SetNRGBA(x, y, color.NRGBA{})
				continue
			}
			dc, diffs := diffColor(color1, color2)
			for i, d := range diffs {
				maxRGBADiffs[i] = util.MaxInt(maxRGBADiffs[i], d)
			}
			resultImg.SetNRGBA(x, y, dc)
		}
	}

	return &DiffMetrics{
		NumDiffPixels:    numDiffPixels,
		PixelDiffPercent: float32(numDiffPixels) * 100 / float32(totalPixels),
		MaxRGBADiffs:     maxRGBADiffs,
		DimDiffer:        img1Bounds.Dx() != img2Bounds.Dx() || img1Bounds.Dy() != img2Bounds.Dy(),
	}, resultImg
}

// GetNRGBA converts the image to an *image.NRGBA in an efficient manner.
func GetNRGBA(img image.Image) *image.NRGBA {
	switch t := img.(type) {
	case *image.NRGBA:
		return t
	case *image.RGBA:
		for i := 3; i < len(t.Pix); i += 4 {
			if t.Pix[i] != 0xff {
				// Non-opaque pixels need the full conversion below.
				return recode(img)
			}
		}
		// If every pixel is opaque the byte layout matches NRGBA exactly.
		return &image.NRGBA{
			Pix:    t.Pix,
			Stride: t.Stride,
			Rect:   t.Rect,
		}
	default:
		return recode(img)
	}
}

// recode redraws the image into a fresh NRGBA buffer.
func recode(img image.Image) *image.NRGBA {
	ret := image.NewNRGBA(img.Bounds())
	draw.Draw(ret, img.Bounds(), img, img.Bounds().Min, draw.Src)
	return ret
}
