// Package h264 decodes a single raster image from an H.264 elementary stream.
//
// Decoding runs through a GStreamer pipeline fed from memory, so no temporary
// files are involved:
//
//	appsrc → h264parse → avdec_h264 → videoconvert → capsfilter (RGBA) → appsink
//
// The videoconvert/capsfilter pair is mandatory normalization: whatever the
// decoder's native output format is, the frame handed back is always 8-bit
// RGBA. If the input encodes multiple frames only the first decodable frame is
// returned; the rest are discarded.
package h264

import (
	"fmt"
	"image"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Stage names used in DecodeError, in pipeline order.
const (
	StageBuildPipeline = "build-pipeline"
	StageStart         = "start"
	StageSubmitPacket  = "submit-packet"
	StageFlush         = "flush"
	StageReceiveFrame  = "receive-frame"
	StageCaps          = "caps"
	StageFrameBuffer   = "frame-buffer"
)

// DecodeError is returned when no image could be produced from the supplied
// bytes. Stage names the part of the decode pipeline that failed.
type DecodeError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("h264 decode failed at %s: %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("h264 decode failed at %s: %s", e.Stage, e.Msg)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type decodeOptions struct {
	width  int
	height int
}

// DecodeOption configures a Decode call.
type DecodeOption func(*decodeOptions)

// WithDimensions asserts that the decoded frame has exactly the given
// dimensions. Decode fails with a DecodeError if they differ.
func WithDimensions(width, height int) DecodeOption {
	return func(o *decodeOptions) {
		o.width = width
		o.height = height
	}
}

// Decoder decodes one frame from one H.264 byte buffer. A Decoder is
// single-shot: create one per frame and Close it afterwards.
type Decoder struct {
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink
	used     bool
}

// NewDecoder builds the decode pipeline in the NULL state.
func NewDecoder() (*Decoder, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating pipeline", Err: err}
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating appsrc", Err: err}
	}
	src.SetProperty("caps", gst.NewCapsFromString("video/x-h264,stream-format=byte-stream,alignment=au"))

	parse, err := gst.NewElement("h264parse")
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating h264parse", Err: err}
	}

	dec, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating avdec_h264", Err: err}
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating videoconvert", Err: err}
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating capsfilter", Err: err}
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGBA"))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "creating appsink", Err: err}
	}
	sink.SetProperty("sync", false)

	pipeline.AddMany(src.Element, parse, dec, convert, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src.Element, parse, dec, convert, capsfilter, sink.Element); err != nil {
		return nil, &DecodeError{Stage: StageBuildPipeline, Msg: "linking elements", Err: err}
	}

	return &Decoder{
		pipeline: pipeline,
		src:      src,
		sink:     sink,
	}, nil
}

// Decode submits the byte buffer as a single packet and returns the first
// decoded frame, converted to NRGBA. There is no partial success: either one
// complete image is returned or a *DecodeError.
func (d *Decoder) Decode(data []byte, opts ...DecodeOption) (*image.NRGBA, error) {
	options := decodeOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if d.used {
		return nil, &DecodeError{Stage: StageSubmitPacket, Msg: "decoder already used, create a new one"}
	}
	d.used = true

	if len(data) == 0 {
		return nil, &DecodeError{Stage: StageSubmitPacket, Msg: "empty frame buffer"}
	}

	if err := d.pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, &DecodeError{Stage: StageStart, Msg: "starting pipeline", Err: err}
	}
	defer d.pipeline.SetState(gst.StateNull)

	if flow := d.src.PushBuffer(gst.NewBufferFromBytes(data)); flow != gst.FlowOK {
		return nil, &DecodeError{Stage: StageSubmitPacket, Msg: fmt.Sprintf("pushing packet returned %v", flow)}
	}
	// End the stream so the decoder flushes any buffered frame.
	if flow := d.src.EndStream(); flow != gst.FlowOK {
		return nil, &DecodeError{Stage: StageFlush, Msg: fmt.Sprintf("ending stream returned %v", flow)}
	}

	// Blocks until the first frame comes out the far end of the pipeline, or
	// returns nil when the EOS arrives without any decodable frame.
	sample := d.sink.PullSample()
	if sample == nil {
		return nil, &DecodeError{Stage: StageReceiveFrame, Msg: "no frame produced"}
	}

	width, height, err := sampleDimensions(sample)
	if err != nil {
		return nil, err
	}
	if options.width != 0 || options.height != 0 {
		if width != options.width || height != options.height {
			return nil, &DecodeError{
				Stage: StageCaps,
				Msg:   fmt.Sprintf("decoded frame is %dx%d, want %dx%d", width, height, options.width, options.height),
			}
		}
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, &DecodeError{Stage: StageReceiveFrame, Msg: "sample has no buffer"}
	}
	mapInfo := buffer.Map(gst.MapRead)
	pix := mapInfo.Bytes()
	defer buffer.Unmap()

	return imageFromRGBA(pix, width, height)
}

// Close tears the pipeline down. Safe to call multiple times.
func (d *Decoder) Close() {
	if d.pipeline != nil {
		d.pipeline.SetState(gst.StateNull)
		d.pipeline = nil
	}
}

// DecodeFrame is a convenience wrapper that decodes a single frame with a
// throwaway Decoder.
func DecodeFrame(data []byte, opts ...DecodeOption) (*image.NRGBA, error) {
	d, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Decode(data, opts...)
}

// sampleDimensions extracts width and height from the sample's caps.
func sampleDimensions(sample *gst.Sample) (int, int, error) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, &DecodeError{Stage: StageCaps, Msg: "sample has no caps"}
	}
	structure := caps.GetStructureAt(0)

	widthVal, err := structure.GetValue("width")
	if err != nil {
		return 0, 0, &DecodeError{Stage: StageCaps, Msg: "caps have no width", Err: err}
	}
	heightVal, err := structure.GetValue("height")
	if err != nil {
		return 0, 0, &DecodeError{Stage: StageCaps, Msg: "caps have no height", Err: err}
	}
	width, ok := widthVal.(int)
	if !ok {
		return 0, 0, &DecodeError{Stage: StageCaps, Msg: fmt.Sprintf("width is not an int: %v", widthVal)}
	}
	height, ok := heightVal.(int)
	if !ok {
		return 0, 0, &DecodeError{Stage: StageCaps, Msg: fmt.Sprintf("height is not an int: %v", heightVal)}
	}
	if width <= 0 || height <= 0 {
		return 0, 0, &DecodeError{Stage: StageCaps, Msg: fmt.Sprintf("invalid dimensions %dx%d", width, height)}
	}
	return width, height, nil
}

// imageFromRGBA validates the raw RGBA buffer against the declared dimensions
// and copies it into a freshly allocated NRGBA image.
func imageFromRGBA(pix []byte, width, height int) (*image.NRGBA, error) {
	want := width * height * 4
	if len(pix) < want {
		return nil, &DecodeError{
			Stage: StageFrameBuffer,
			Msg:   fmt.Sprintf("frame buffer holds %d bytes, need %d for %dx%d RGBA", len(pix), want, width, height),
		}
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, pix[:want])
	return img, nil
}
