// package main is the snapgold command line tool for inspecting image diffs
// and rendering text format fixtures.
package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/snapgold/snapgold/go/diff"
	"github.com/snapgold/snapgold/go/fileutil"
	"github.com/snapgold/snapgold/go/image/text"
	"github.com/snapgold/snapgold/go/util"
)

// flag names
const (
	minSimilarityFlagName = "min-similarity"
	diffOutFlagName       = "diff-out"
)

// flags
var (
	minSimilarityFlag = &cli.Float64Flag{
		Name:  minSimilarityFlagName,
		Value: 1.0,
		Usage: "Minimum permissible similarity score in [0, 1].",
	}
	diffOutFlag = &cli.StringFlag{
		Name:  diffOutFlagName,
		Value: "",
		Usage: "Write a false color diff image to this path.",
	}
)

func main() {
	app := &cli.App{
		Name:        "snapgold",
		Description: "snapgold compares images with a perceptual similarity metric and renders text format fixtures.",
		Commands: []*cli.Command{
			{
				Name:      "compare",
				Usage:     "snapgold compare [--min-similarity 0.9] [--diff-out diff.png] <expected.png> <actual.png>",
				Flags:     []cli.Flag{minSimilarityFlag, diffOutFlag},
				ArgsUsage: "<expected.png> <actual.png>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 2 {
						return cli.Exit("compare needs exactly two image paths", 2)
					}
					return compare(ctx.Args().Get(0), ctx.Args().Get(1), ctx.Float64(minSimilarityFlagName), ctx.String(diffOutFlagName))
				},
			},
			{
				Name:      "render",
				Usage:     "snapgold render <fixture.txt> <out.png>",
				ArgsUsage: "<fixture.txt> <out.png>",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 2 {
						return cli.Exit("render needs an input and an output path", 2)
					}
					return render(ctx.Args().Get(0), ctx.Args().Get(1))
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// compare loads both images, prints the similarity score and pixel metrics and
// exits nonzero if the score falls below minSimilarity.
func compare(expectedPath, actualPath string, minSimilarity float64, diffOut string) error {
	expected, err := diff.OpenImage(expectedPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading %s: %s", expectedPath, err), 2)
	}
	actual, err := diff.OpenImage(actualPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading %s: %s", actualPath, err), 2)
	}

	score, err := diff.Score(expected, actual)
	if err != nil {
		return cli.Exit(fmt.Sprintf("comparing images: %s", err), 2)
	}
	metrics, diffImg := diff.PixelDiff(diff.GetNRGBA(expected), diff.GetNRGBA(actual))

	fmt.Printf("score:              %v\n", score)
	fmt.Printf("diff pixels:        %d (%.4f%%)\n", metrics.NumDiffPixels, metrics.PixelDiffPercent)
	fmt.Printf("max RGBA diffs:     %v\n", metrics.MaxRGBADiffs)
	fmt.Printf("dimensions differ:  %v\n", metrics.DimDiffer)

	if diffOut != "" {
		if err := fileutil.EnsureDirPathExists(diffOut); err != nil {
			return cli.Exit(fmt.Sprintf("creating directories for %s: %s", diffOut, err), 2)
		}
		f, err := os.Create(diffOut)
		if err != nil {
			return cli.Exit(fmt.Sprintf("creating %s: %s", diffOut, err), 2)
		}
		defer util.Close(f)
		encoder := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := encoder.Encode(f, diffImg); err != nil {
			return cli.Exit(fmt.Sprintf("writing %s: %s", diffOut, err), 2)
		}
	}

	if score < minSimilarity {
		return cli.Exit(fmt.Sprintf("score %v is less than the minimum permissible similarity %v", score, minSimilarity), 1)
	}
	return nil
}

// render converts a text format fixture into a PNG.
func render(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading %s: %s", inPath, err), 2)
	}
	defer util.Close(in)

	img, err := text.Decode(in)
	if err != nil {
		return cli.Exit(fmt.Sprintf("decoding %s: %s", inPath, err), 2)
	}

	if err := fileutil.EnsureDirPathExists(outPath); err != nil {
		return cli.Exit(fmt.Sprintf("creating directories for %s: %s", outPath, err), 2)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("creating %s: %s", outPath, err), 2)
	}
	defer util.Close(out)
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(out, diff.GetNRGBA(img)); err != nil {
		return cli.Exit(fmt.Sprintf("writing %s: %s", outPath, err), 2)
	}
	return nil
}
