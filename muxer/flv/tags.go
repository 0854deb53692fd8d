package flv

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xaionaro-go/screenrecorder"
	"github.com/yutopp/go-flv/tag"
)

// CheckTrack reports whether the track can be carried in FLV.
func CheckTrack(track screenrecorder.TrackDescriptor) error {
	switch track.Kind {
	case screenrecorder.TrackKindVideo:
		switch track.VideoCodec {
		case screenrecorder.VideoCodecMJPEG, screenrecorder.VideoCodecH264:
			return nil
		}
		return fmt.Errorf("video codec %s is not supported by FLV", track.VideoCodec)
	case screenrecorder.TrackKindAudio:
		switch track.AudioCodec {
		case screenrecorder.AudioCodecPCM:
			if track.SampleFormat != screenrecorder.SampleFormatS16LE {
				return fmt.Errorf("PCM sample format %s is not supported by FLV", track.SampleFormat)
			}
			return nil
		case screenrecorder.AudioCodecAAC:
			return nil
		}
		return fmt.Errorf("audio codec %s is not supported by FLV", track.AudioCodec)
	}
	return fmt.Errorf("unexpected track kind %s", track.Kind)
}

func soundRate(sampleRate uint32) tag.SoundRate {
	switch {
	case sampleRate <= 5512:
		return tag.SoundRate5_5kHz
	case sampleRate <= 11025:
		return tag.SoundRate11kHz
	case sampleRate <= 22050:
		return tag.SoundRate22kHz
	default:
		return tag.SoundRate44kHz
	}
}

// SoundRateHz returns the sample rate signaled by the FLV sound rate field.
func SoundRateHz(r tag.SoundRate) uint32 {
	switch r {
	case tag.SoundRate5_5kHz:
		return 5512
	case tag.SoundRate11kHz:
		return 11025
	case tag.SoundRate22kHz:
		return 22050
	default:
		return 44100
	}
}

func soundType(channels uint16) tag.SoundType {
	if channels == 1 {
		return tag.SoundTypeMono
	}
	return tag.SoundTypeStereo
}

func timestampMS(ts screenrecorder.Timestamp) uint32 {
	if ts < 0 {
		return 0
	}
	return uint32(ts / time.Millisecond)
}

// SequenceHeaders returns the codec configuration tags which must precede
// the media tags of the tracks.
func SequenceHeaders(tracks []screenrecorder.TrackDescriptor) ([]*tag.FlvTag, error) {
	var result []*tag.FlvTag
	for _, track := range tracks {
		switch {
		case track.Kind == screenrecorder.TrackKindVideo && track.VideoCodec == screenrecorder.VideoCodecH264:
			cfg, err := avcDecoderConfig(track.ExtraData)
			if err != nil {
				return nil, fmt.Errorf("unable to build the AVC configuration of track %d: %w", track.ID, err)
			}
			result = append(result, &tag.FlvTag{
				TagType: tag.TagTypeVideo,
				Data: &tag.VideoData{
					FrameType:     tag.FrameTypeKeyFrame,
					CodecID:       tag.CodecIDAVC,
					AVCPacketType: tag.AVCPacketTypeSequenceHeader,
					Data:          bytes.NewReader(cfg),
				},
			})
		case track.Kind == screenrecorder.TrackKindAudio && track.AudioCodec == screenrecorder.AudioCodecAAC:
			result = append(result, &tag.FlvTag{
				TagType: tag.TagTypeAudio,
				Data: &tag.AudioData{
					SoundFormat:   tag.SoundFormatAAC,
					SoundRate:     tag.SoundRate44kHz,
					SoundSize:     tag.SoundSize16Bit,
					SoundType:     tag.SoundTypeStereo,
					AACPacketType: tag.AACPacketTypeSequenceHeader,
					Data:          bytes.NewReader(track.ExtraData),
				},
			})
		}
	}
	return result, nil
}

// PacketTag converts an encoded packet of the track into an FLV tag.
func PacketTag(track screenrecorder.TrackDescriptor, pkt screenrecorder.EncodedPacket) (*tag.FlvTag, error) {
	result := &tag.FlvTag{
		Timestamp: timestampMS(pkt.DTS),
	}
	switch track.Kind {
	case screenrecorder.TrackKindVideo:
		result.TagType = tag.TagTypeVideo
		frameType := tag.FrameTypeInterFrame
		if pkt.IsKeyFrame {
			frameType = tag.FrameTypeKeyFrame
		}
		switch track.VideoCodec {
		case screenrecorder.VideoCodecMJPEG:
			result.Data = &tag.VideoData{
				FrameType: tag.FrameTypeKeyFrame,
				CodecID:   tag.CodecIDJPEG,
				Data:      bytes.NewReader(pkt.Data),
			}
		case screenrecorder.VideoCodecH264:
			result.Data = &tag.VideoData{
				FrameType:       frameType,
				CodecID:         tag.CodecIDAVC,
				AVCPacketType:   tag.AVCPacketTypeNALU,
				CompositionTime: int32((pkt.PTS - pkt.DTS) / time.Millisecond),
				Data:            bytes.NewReader(annexBToAVCC(pkt.Data)),
			}
		default:
			return nil, fmt.Errorf("video codec %s is not supported by FLV", track.VideoCodec)
		}
	case screenrecorder.TrackKindAudio:
		result.TagType = tag.TagTypeAudio
		switch track.AudioCodec {
		case screenrecorder.AudioCodecPCM:
			result.Data = &tag.AudioData{
				SoundFormat: tag.SoundFormatLinearPCMLittleEndian,
				SoundRate:   soundRate(track.SampleRate),
				SoundSize:   tag.SoundSize16Bit,
				SoundType:   soundType(track.Channels),
				Data:        bytes.NewReader(pkt.Data),
			}
		case screenrecorder.AudioCodecAAC:
			result.Data = &tag.AudioData{
				SoundFormat:   tag.SoundFormatAAC,
				SoundRate:     tag.SoundRate44kHz,
				SoundSize:     tag.SoundSize16Bit,
				SoundType:     tag.SoundTypeStereo,
				AACPacketType: tag.AACPacketTypeRaw,
				Data:          bytes.NewReader(pkt.Data),
			}
		default:
			return nil, fmt.Errorf("audio codec %s is not supported by FLV", track.AudioCodec)
		}
	default:
		return nil, fmt.Errorf("unexpected track kind %s", track.Kind)
	}
	return result, nil
}

// EncodeTagBody serializes the tag body the way it is carried in RTMP
// audio/video messages.
func EncodeTagBody(t *tag.FlvTag) ([]byte, error) {
	var buf bytes.Buffer
	switch data := t.Data.(type) {
	case *tag.AudioData:
		if err := tag.EncodeAudioData(&buf, data); err != nil {
			return nil, err
		}
	case *tag.VideoData:
		if err := tag.EncodeVideoData(&buf, data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected tag data type %T", t.Data)
	}
	return buf.Bytes(), nil
}
