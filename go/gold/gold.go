// Package gold implements visual regression assertions against baseline
// images stored on disk.
//
// Each assertion compares an actual image (or a decoded H.264 frame) against
// the baseline at the given path using a perceptual similarity metric and
// fails if the score drops below the caller's minimum permissible similarity.
// The score is in [0, 1]; identical images score 1.0.
//
// Run tests with SNAPGOLD=overwrite to accept the current output as the new
// baseline. SNAPGOLD=store-artifact and SNAPGOLD=store-artifact-on-mismatch
// mirror the actual image under the artifacts/ directory, preserving the
// baseline's relative path, so a failing test's output sits side by side with
// its baseline for review.
package gold

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/snapgold/snapgold/go/diff"
	"github.com/snapgold/snapgold/go/fileutil"
	"github.com/snapgold/snapgold/go/h264"
	"github.com/snapgold/snapgold/go/util"
)

// ArtifactRoot is the directory that artifact copies are mirrored under.
const ArtifactRoot = "artifacts"

// MismatchError is returned when the similarity score is below the minimum
// permissible similarity. It is the expected failure outcome of an assertion,
// as opposed to decode and I/O errors which indicate a broken test setup.
type MismatchError struct {
	// Path of the baseline image.
	Path string
	// Score the comparison produced, in [0, 1].
	Score float64
	// MinSimilarity the caller required.
	MinSimilarity float64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf(
		"image (%q) score is %v which is less than the minimum permissible similarity %v\nset %s=overwrite if these changes are intentional",
		e.Path, e.Score, e.MinSimilarity, EnvVar)
}

// TestingT is the subset of testing.TB needed to report assertion failures.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

// AssertImage compares the actual image to the baseline stored at path and
// fails the test if they are less similar than minSimilarity.
func AssertImage(t TestingT, path string, actual image.Image, minSimilarity float64) {
	t.Helper()
	if err := CompareImage(path, actual, minSimilarity); err != nil {
		t.Fatalf("assertion failed: %s", err)
	}
}

// AssertFrame decodes a single frame from the H.264 byte buffer, then compares
// it to the baseline stored at path like AssertImage. The baseline is a PNG,
// so the diff of a failing frame is easily visible in review UIs.
func AssertFrame(t TestingT, path string, frame []byte, minSimilarity float64) {
	t.Helper()
	if err := CompareFrame(path, frame, minSimilarity); err != nil {
		t.Fatalf("assertion failed: %s", err)
	}
}

// CompareImage is the explicit-result form of AssertImage. It returns nil on a
// pass, a *MismatchError when the score is below minSimilarity, and other
// errors for fatal conditions (unreadable baseline, comparator failure,
// artifact write failure).
//
// minSimilarity is not range checked. Values above 1 always fail, values below
// 0 always pass.
func CompareImage(path string, actual image.Image, minSimilarity float64) error {
	return compare(path, actual, minSimilarity, ModeFromEnv())
}

// CompareFrame is the explicit-result form of AssertFrame. Decode failures are
// fatal and surface as a *h264.DecodeError.
func CompareFrame(path string, frame []byte, minSimilarity float64) error {
	actual, err := h264.DecodeFrame(frame)
	if err != nil {
		return err
	}
	return compare(path, actual, minSimilarity, ModeFromEnv())
}

// ArtifactPath returns the artifact mirror location for the given baseline
// path, preserving its relative structure under ArtifactRoot.
func ArtifactPath(path string) string {
	return filepath.Join(ArtifactRoot, path)
}

// compare runs the assertion pipeline with an explicitly resolved mode.
func compare(path string, actual image.Image, minSimilarity float64, mode Mode) error {
	if mode == ModeOverwrite {
		glog.Infof("Overwriting baseline %s", path)
		return writeImage(path, actual)
	}

	expected, err := loadBaseline(path, actual)
	if err != nil {
		return err
	}

	score, err := diff.Score(expected, actual)
	if err != nil {
		return errors.Wrapf(err, "comparing against baseline %q", path)
	}
	mismatch := score < minSimilarity

	// Artifacts are written before the verdict is returned, so even a failing
	// run leaves an inspectable copy on disk.
	if mode == ModeStoreArtifact || (mode == ModeStoreArtifactOnMismatch && mismatch) {
		artifactPath := ArtifactPath(path)
		glog.Infof("Storing artifact %s", artifactPath)
		if err := writeImage(artifactPath, actual); err != nil {
			return err
		}
	}

	if mismatch {
		return &MismatchError{Path: path, Score: score, MinSimilarity: minSimilarity}
	}
	return nil
}

// loadBaseline reads the baseline image at path. A nonexistent baseline is not
// an error: it is normalized to a blank canvas with the actual image's
// dimensions, which compares like any other baseline and (almost always)
// triggers the same review flow as a real diff. Every other read or decode
// failure is fatal.
func loadBaseline(path string, actual image.Image) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return image.NewNRGBA(actual.Bounds()), nil
		}
		return nil, errors.Wrapf(err, "reading baseline %q", path)
	}
	defer util.Close(f)

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding baseline %q", path)
	}
	return img, nil
}

// writeImage writes the image to path as a lossless PNG, regardless of its
// source format, creating missing parent directories.
func writeImage(path string, img image.Image) error {
	if err := fileutil.EnsureDirPathExists(path); err != nil {
		return errors.Wrapf(err, "creating directories for %q", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(f, diff.GetNRGBA(img)); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding %q", path)
	}
	return errors.Wrapf(f.Close(), "writing %q", path)
}
