package gold

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgold/snapgold/go/h264"
	"github.com/snapgold/snapgold/go/image/text"
	"github.com/snapgold/snapgold/go/util"
)

// dogA and dogB are two clearly different images.
const dogA = `! SNAPGOLDTEXT
3 3
0xff0000ff 0xffff00ff 0xff0000ff
0xffff00ff 0xff0000ff 0xffff00ff
0xff0000ff 0xffff00ff 0xff0000ff`

const dogB = `! SNAPGOLDTEXT
3 3
0x0000ffff 0x00ff00ff 0x0000ffff
0x00ff00ff 0x0000ffff 0x00ff00ff
0x0000ffff 0x00ff00ff 0x0000ffff`

func TestParseMode(t *testing.T) {
	test := func(raw string, want Mode) {
		t.Helper()
		assert.Equal(t, want, ParseMode(raw))
	}
	test("overwrite", ModeOverwrite)
	test("store-artifact", ModeStoreArtifact)
	test("store-artifact-on-mismatch", ModeStoreArtifactOnMismatch)
	test("", ModeDefault)
	test("Overwrite", ModeDefault)
	test("store_artifact", ModeDefault)
	test("something-else", ModeDefault)
}

func TestModeFromEnv_ReadFreshPerCall(t *testing.T) {
	t.Setenv(EnvVar, "overwrite")
	assert.Equal(t, ModeOverwrite, ModeFromEnv())
	t.Setenv(EnvVar, "store-artifact")
	assert.Equal(t, ModeStoreArtifact, ModeFromEnv())
	t.Setenv(EnvVar, "")
	assert.Equal(t, ModeDefault, ModeFromEnv())
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, filepath.Join("artifacts", "testdata", "dog1.png"), ArtifactPath(filepath.Join("testdata", "dog1.png")))
}

func TestCompareImage_SelfComparison_Passes(t *testing.T) {
	chtmp(t)
	img := text.MustToNRGBA(dogA)
	writePNG(t, "testdata/dog1.png", img)

	require.NoError(t, CompareImage("testdata/dog1.png", img, 1.0))
}

func TestCompareImage_DifferentImage_FailsWithMismatch(t *testing.T) {
	chtmp(t)
	writePNG(t, "testdata/dog2.png", text.MustToNRGBA(dogB))

	err := CompareImage("testdata/dog2.png", text.MustToNRGBA(dogA), 1.0)
	require.Error(t, err)

	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "testdata/dog2.png", mismatch.Path)
	assert.Equal(t, 1.0, mismatch.MinSimilarity)
	assert.Less(t, mismatch.Score, 1.0)
	assert.Contains(t, err.Error(), "testdata/dog2.png")
	assert.Contains(t, err.Error(), "SNAPGOLD=overwrite")
}

func TestCompareImage_MissingBaseline_BehavesLikeBlankCanvas(t *testing.T) {
	chtmp(t)
	actual := text.MustToNRGBA(dogA)

	// A nonexistent baseline must not error, it compares against a blank
	// canvas of the actual image's dimensions and fails like a regular diff.
	err := CompareImage("testdata/does-not-exist.png", actual, 1.0)
	require.Error(t, err)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Less(t, mismatch.Score, 1.0)

	// With a minimum similarity of zero the same comparison passes.
	require.NoError(t, CompareImage("testdata/does-not-exist.png", actual, 0.0))
}

func TestCompareImage_CorruptBaseline_IsFatal(t *testing.T) {
	chtmp(t)
	require.NoError(t, os.MkdirAll("testdata", 0700))
	require.NoError(t, os.WriteFile("testdata/corrupt.png", []byte("this is not a png"), 0600))

	err := CompareImage("testdata/corrupt.png", text.MustToNRGBA(dogA), 1.0)
	require.Error(t, err)
	var mismatch *MismatchError
	assert.False(t, errors.As(err, &mismatch))
	assert.Contains(t, err.Error(), "decoding baseline")
}

func TestCompareImage_OverwriteMode_IsIdempotent(t *testing.T) {
	chtmp(t)
	img := text.MustToNRGBA(dogA)

	t.Setenv(EnvVar, "overwrite")
	require.NoError(t, CompareImage("testdata/new-baseline.png", img, 1.0))
	require.FileExists(t, "testdata/new-baseline.png")

	// Re-comparing against the freshly written baseline passes at the
	// strictest threshold.
	t.Setenv(EnvVar, "")
	require.NoError(t, CompareImage("testdata/new-baseline.png", img, 1.0))
}

func TestCompareImage_OverwriteMode_SkipsComparison(t *testing.T) {
	chtmp(t)
	writePNG(t, "testdata/old.png", text.MustToNRGBA(dogA))

	// Even a completely different image passes, and replaces the baseline.
	t.Setenv(EnvVar, "overwrite")
	require.NoError(t, CompareImage("testdata/old.png", text.MustToNRGBA(dogB), 1.0))

	t.Setenv(EnvVar, "")
	require.NoError(t, CompareImage("testdata/old.png", text.MustToNRGBA(dogB), 1.0))
}

func TestCompareImage_StoreArtifact_WritesCopyOnMatch(t *testing.T) {
	chtmp(t)
	img := text.MustToNRGBA(dogA)
	writePNG(t, "testdata/dog1.png", img)

	t.Setenv(EnvVar, "store-artifact")
	require.NoError(t, CompareImage("testdata/dog1.png", img, 1.0))
	require.FileExists(t, filepath.Join("artifacts", "testdata", "dog1.png"))

	// The artifact mirrors the baseline's logical location, so comparing the
	// copy against the original baseline content passes.
	t.Setenv(EnvVar, "")
	require.NoError(t, CompareImage(filepath.Join("artifacts", "testdata", "dog1.png"), img, 1.0))
}

func TestCompareImage_StoreArtifactOnMismatch_WritesOnlyOnMismatch(t *testing.T) {
	chtmp(t)
	baseline := text.MustToNRGBA(dogA)
	writePNG(t, "testdata/dog1.png", baseline)

	t.Setenv(EnvVar, "store-artifact-on-mismatch")

	// A passing comparison stores nothing.
	require.NoError(t, CompareImage("testdata/dog1.png", baseline, 1.0))
	assert.NoFileExists(t, filepath.Join("artifacts", "testdata", "dog1.png"))

	// A failing comparison stores the actual image before reporting the
	// mismatch.
	actual := text.MustToNRGBA(dogB)
	err := CompareImage("testdata/dog1.png", actual, 1.0)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	require.FileExists(t, filepath.Join("artifacts", "testdata", "dog1.png"))

	// Re-running the comparison against the stored artifact passes.
	t.Setenv(EnvVar, "")
	require.NoError(t, CompareImage(filepath.Join("artifacts", "testdata", "dog1.png"), actual, 1.0))
}

func TestCompareImage_ThresholdOutOfRange_DegradesGracefully(t *testing.T) {
	chtmp(t)
	img := text.MustToNRGBA(dogA)
	writePNG(t, "testdata/dog1.png", img)

	// Above 1.0 always fails, below 0.0 always passes.
	err := CompareImage("testdata/dog1.png", img, 1.5)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))

	require.NoError(t, CompareImage("testdata/dog1.png", text.MustToNRGBA(dogB), -1.0))
}

func TestCompareFrame_UndecodableFrame_IsFatal(t *testing.T) {
	chtmp(t)
	err := CompareFrame("testdata/frame.png", []byte{0x00, 0x00, 0x00, 0x01, 0xff}, 1.0)
	require.Error(t, err)
	var decodeErr *h264.DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestAssertImage_ReportsFailureViaTestingT(t *testing.T) {
	chtmp(t)
	writePNG(t, "testdata/dog1.png", text.MustToNRGBA(dogA))

	rec := &recordingT{}
	AssertImage(rec, "testdata/dog1.png", text.MustToNRGBA(dogB), 1.0)
	require.True(t, rec.failed)
	assert.Contains(t, rec.msg, "assertion failed")
	assert.Contains(t, rec.msg, "testdata/dog1.png")
	assert.Contains(t, rec.msg, "SNAPGOLD=overwrite")

	rec = &recordingT{}
	AssertImage(rec, "testdata/dog1.png", text.MustToNRGBA(dogA), 1.0)
	assert.False(t, rec.failed)
}

func TestMismatchError_Message(t *testing.T) {
	err := &MismatchError{Path: "testdata/dog1.png", Score: 0.25, MinSimilarity: 0.9}
	assert.Equal(t,
		"image (\"testdata/dog1.png\") score is 0.25 which is less than the minimum permissible similarity 0.9\nset SNAPGOLD=overwrite if these changes are intentional",
		err.Error())
}

// recordingT captures Fatalf calls instead of aborting the test.
type recordingT struct {
	failed bool
	msg    string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, args ...interface{}) {
	r.failed = true
	r.msg = fmt.Sprintf(format, args...)
}

// chtmp switches the working directory to a fresh temp dir for the duration of
// the test, so that relative baseline and artifact paths stay isolated.
func chtmp(t *testing.T) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() {
		_ = os.Chdir(old)
	})
}

// writePNG encodes the image as a PNG at the given path, creating parent
// directories.
func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer util.Close(f)
	require.NoError(t, png.Encode(f, img))
}
