package screenrecorder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp is a position on the recording timeline: time elapsed since
// the recording started, with paused intervals excluded.
type Timestamp = time.Duration

type PixelFormat uint

const (
	PixelFormatUndefined = PixelFormat(iota)
	PixelFormatRGBA
	PixelFormatBGRA
	PixelFormatI420
	EndOfPixelFormat
)

func (pf PixelFormat) String() string {
	switch pf {
	case PixelFormatUndefined:
		return "<undefined>"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatI420:
		return "i420"
	}
	return fmt.Sprintf("unexpected_pixel_format_%d", uint(pf))
}

func (pf PixelFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(pf.String())
}

func (pf *PixelFormat) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, pf, PixelFormatUndefined, EndOfPixelFormat, "PixelFormat")
}

func (pf PixelFormat) MarshalText() ([]byte, error) {
	return []byte(pf.String()), nil
}

func (pf *PixelFormat) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, pf, PixelFormatUndefined, EndOfPixelFormat, "PixelFormat")
}

// FrameSize returns the amount of bytes a tightly packed frame of
// the given dimensions occupies, or 0 if the format is unknown.
func (pf PixelFormat) FrameSize(width, height uint32) int {
	w, h := int(width), int(height)
	switch pf {
	case PixelFormatRGBA, PixelFormatBGRA:
		return w * h * 4
	case PixelFormatI420:
		cw, ch := (w+1)/2, (h+1)/2
		return w*h + 2*cw*ch
	}
	return 0
}

// VideoFrame is a raw captured (or processed) picture.
//
// For packed formats Stride is the amount of bytes per row;
// for I420 it is the stride of the luma plane and chroma planes
// follow tightly packed with stride (Width+1)/2.
type VideoFrame struct {
	Width       uint32
	Height      uint32
	Stride      int
	PixelFormat PixelFormat
	Data        []byte
	Timestamp   Timestamp

	// Index is the sequence number assigned by the capture side.
	Index uint64
}

func (f *VideoFrame) String() string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("frame#%d(%dx%d %s @%v)", f.Index, f.Width, f.Height, f.PixelFormat, f.Timestamp)
}

// Validate checks that the buffer is large enough for the declared geometry.
func (f *VideoFrame) Validate() error {
	if f == nil {
		return FormatError{Reason: "nil frame"}
	}
	if f.Width == 0 || f.Height == 0 {
		return FormatError{Reason: fmt.Sprintf("empty dimensions %dx%d", f.Width, f.Height)}
	}
	switch f.PixelFormat {
	case PixelFormatRGBA, PixelFormatBGRA:
		if f.Stride < int(f.Width)*4 {
			return FormatError{Reason: fmt.Sprintf("stride %d is less than %d", f.Stride, f.Width*4)}
		}
		if need := f.Stride*(int(f.Height)-1) + int(f.Width)*4; len(f.Data) < need {
			return FormatError{Reason: fmt.Sprintf("buffer is %d bytes, need %d", len(f.Data), need)}
		}
	case PixelFormatI420:
		if f.Stride < int(f.Width) {
			return FormatError{Reason: fmt.Sprintf("stride %d is less than %d", f.Stride, f.Width)}
		}
		cw, ch := (int(f.Width)+1)/2, (int(f.Height)+1)/2
		if need := f.Stride*int(f.Height) + 2*cw*ch; len(f.Data) < need {
			return FormatError{Reason: fmt.Sprintf("buffer is %d bytes, need %d", len(f.Data), need)}
		}
	default:
		return FormatError{Reason: fmt.Sprintf("unsupported pixel format %s", f.PixelFormat)}
	}
	return nil
}

type SampleFormat uint

const (
	SampleFormatUndefined = SampleFormat(iota)
	SampleFormatS16LE
	SampleFormatS32LE
	SampleFormatF32LE
	EndOfSampleFormat
)

func (sf SampleFormat) String() string {
	switch sf {
	case SampleFormatUndefined:
		return "<undefined>"
	case SampleFormatS16LE:
		return "s16le"
	case SampleFormatS32LE:
		return "s32le"
	case SampleFormatF32LE:
		return "f32le"
	}
	return fmt.Sprintf("unexpected_sample_format_%d", uint(sf))
}

func (sf SampleFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(sf.String())
}

func (sf *SampleFormat) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, sf, SampleFormatUndefined, EndOfSampleFormat, "SampleFormat")
}

func (sf SampleFormat) MarshalText() ([]byte, error) {
	return []byte(sf.String()), nil
}

func (sf *SampleFormat) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, sf, SampleFormatUndefined, EndOfSampleFormat, "SampleFormat")
}

// BytesPerSample returns the size of a single sample of a single channel.
func (sf SampleFormat) BytesPerSample() int {
	switch sf {
	case SampleFormatS16LE:
		return 2
	case SampleFormatS32LE, SampleFormatF32LE:
		return 4
	}
	return 0
}

type AudioSourceKind uint

const (
	AudioSourceKindUndefined = AudioSourceKind(iota)
	AudioSourceKindMicrophone
	AudioSourceKindLoopback
	EndOfAudioSourceKind
)

func (k AudioSourceKind) String() string {
	switch k {
	case AudioSourceKindUndefined:
		return "<undefined>"
	case AudioSourceKindMicrophone:
		return "microphone"
	case AudioSourceKindLoopback:
		return "loopback"
	}
	return fmt.Sprintf("unexpected_audio_source_kind_%d", uint(k))
}

func (k AudioSourceKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *AudioSourceKind) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, k, AudioSourceKindUndefined, EndOfAudioSourceKind, "AudioSourceKind")
}

func (k AudioSourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *AudioSourceKind) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, k, AudioSourceKindUndefined, EndOfAudioSourceKind, "AudioSourceKind")
}

type AudioSourceID string

// AudioBlock is a chunk of interleaved PCM samples.
type AudioBlock struct {
	SourceID     AudioSourceID
	SourceKind   AudioSourceKind
	SampleRate   uint32
	Channels     uint16
	SampleFormat SampleFormat
	Data         []byte
	Timestamp    Timestamp
}

func (b *AudioBlock) String() string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf(
		"audio[%s](%dHz %dch %s %d samples @%v)",
		b.SourceID, b.SampleRate, b.Channels, b.SampleFormat, b.Samples(), b.Timestamp,
	)
}

// Samples returns the amount of samples per channel.
func (b *AudioBlock) Samples() int {
	bps := b.SampleFormat.BytesPerSample()
	if bps == 0 || b.Channels == 0 {
		return 0
	}
	return len(b.Data) / (bps * int(b.Channels))
}

func (b *AudioBlock) Duration() time.Duration {
	return SamplesDuration(b.Samples(), b.SampleRate)
}

// SamplesDuration converts a per-channel sample count into a duration.
func SamplesDuration(samples int, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}

// DurationSamples converts a duration into a per-channel sample count (rounded down).
func DurationSamples(d time.Duration, sampleRate uint32) int {
	if d <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

type TrackKind uint

const (
	TrackKindUndefined = TrackKind(iota)
	TrackKindVideo
	TrackKindAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindVideo:
		return "video"
	case TrackKindAudio:
		return "audio"
	}
	return "<undefined>"
}

type TrackID int

// TrackDescriptor describes an elementary stream the Muxer will receive.
type TrackDescriptor struct {
	ID        TrackID
	Kind      TrackKind
	TimeBase  time.Duration
	ExtraData []byte

	VideoCodec VideoCodec
	Width      uint32
	Height     uint32
	FrameRate  uint32

	AudioCodec   AudioCodec
	SampleRate   uint32
	Channels     uint16
	SampleFormat SampleFormat
}

// EncodedPacket is a compressed access unit of a single track.
type EncodedPacket struct {
	TrackID    TrackID
	Data       []byte
	PTS        Timestamp
	DTS        Timestamp
	Duration   time.Duration
	IsKeyFrame bool
}

func (p *EncodedPacket) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("pkt[track:%d](%d bytes pts:%v dts:%v key:%t)", p.TrackID, len(p.Data), p.PTS, p.DTS, p.IsKeyFrame)
}

func unmarshalEnum[T interface {
	~uint
	String() string
}](b []byte, dst *T, first, end T, typeName string) error {
	if dst == nil {
		return fmt.Errorf("%s is nil", typeName)
	}
	s := string(b)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("unable to parse the %s: %w", typeName, err)
		}
	}
	s = strings.ToLower(s)
	for cmp := first; cmp < end; cmp++ {
		if cmp.String() == s {
			*dst = cmp
			return nil
		}
	}
	return fmt.Errorf("unknown value of the %s: '%s'", typeName, s)
}
