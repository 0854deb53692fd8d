package flv

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goflv "github.com/yutopp/go-flv"
	"github.com/yutopp/go-flv/tag"
)

// ProbeResult summarizes the media tags of an FLV stream.
// Codec configuration tags are not counted.
type ProbeResult struct {
	HasVideo    bool
	HasAudio    bool
	VideoTags   int
	AudioTags   int
	VideoCodec  tag.CodecID
	AudioFormat tag.SoundFormat

	FirstVideoTimestamp time.Duration
	LastVideoTimestamp  time.Duration
	VideoTimestamps     []time.Duration

	// AudioDuration is computed from the amount of PCM samples,
	// it stays zero for compressed audio.
	AudioDuration time.Duration
}

// ProbeFile reads the FLV file at the path.
func ProbeFile(path string) (*ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Probe(f)
}

// Probe reads the whole FLV stream.
func Probe(r io.Reader) (*ProbeResult, error) {
	dec, err := goflv.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read the FLV header: %w", err)
	}
	result := &ProbeResult{
		HasVideo: dec.Header().Flags&goflv.FlagsVideo != 0,
		HasAudio: dec.Header().Flags&goflv.FlagsAudio != 0,
	}

	var pcmSamples int64
	var pcmRate uint32
	for {
		var t tag.FlvTag
		err := dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to decode a tag: %w", err)
		}

		ts := time.Duration(t.Timestamp) * time.Millisecond
		switch data := t.Data.(type) {
		case *tag.VideoData:
			if _, err := io.Copy(io.Discard, data.Data); err != nil {
				return nil, err
			}
			if data.CodecID == tag.CodecIDAVC && data.AVCPacketType == tag.AVCPacketTypeSequenceHeader {
				break
			}
			if result.VideoTags == 0 {
				result.FirstVideoTimestamp = ts
			}
			result.VideoTags++
			result.VideoCodec = data.CodecID
			result.LastVideoTimestamp = ts
			result.VideoTimestamps = append(result.VideoTimestamps, ts)
		case *tag.AudioData:
			body, err := io.ReadAll(data.Data)
			if err != nil {
				return nil, err
			}
			if data.SoundFormat == tag.SoundFormatAAC && data.AACPacketType == tag.AACPacketTypeSequenceHeader {
				break
			}
			result.AudioTags++
			result.AudioFormat = data.SoundFormat
			if data.SoundFormat == tag.SoundFormatLinearPCMLittleEndian {
				channels := 1
				if data.SoundType == tag.SoundTypeStereo {
					channels = 2
				}
				bytesPerSample := 1
				if data.SoundSize == tag.SoundSize16Bit {
					bytesPerSample = 2
				}
				pcmSamples += int64(len(body) / (channels * bytesPerSample))
				pcmRate = SoundRateHz(data.SoundRate)
			}
		}
		t.Close()
	}
	if pcmRate > 0 {
		result.AudioDuration = time.Duration(pcmSamples * int64(time.Second) / int64(pcmRate))
	}
	return result, nil
}
