package flv

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	nalTypeSPS = 7
	nalTypePPS = 8
)

// splitAnnexB splits an Annex B byte stream into NAL units (without start codes).
func splitAnnexB(data []byte) [][]byte {
	var (
		result [][]byte
		start  = -1
	)
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				result = append(result, trimTrailingZeros(data[start:i]))
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		result = append(result, data[start:])
	}
	return result
}

func trimTrailingZeros(nal []byte) []byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	return nal
}

func isAnnexB(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0, 0, 1}) || bytes.HasPrefix(data, []byte{0, 0, 0, 1})
}

// annexBToAVCC rewrites start codes into 4-byte length prefixes.
// Data that is not Annex B is returned as is.
func annexBToAVCC(data []byte) []byte {
	if !isAnnexB(data) {
		return data
	}
	var buf bytes.Buffer
	for _, nal := range splitAnnexB(data) {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(nal)))
		buf.Write(size[:])
		buf.Write(nal)
	}
	return buf.Bytes()
}

// avcDecoderConfig returns an AVCDecoderConfigurationRecord built from
// the encoder extradata, which may already be such a record.
func avcDecoderConfig(extraData []byte) ([]byte, error) {
	if len(extraData) == 0 {
		return nil, fmt.Errorf("no extradata")
	}
	if extraData[0] == 1 {
		return extraData, nil
	}

	var sps, pps [][]byte
	for _, nal := range splitAnnexB(extraData) {
		if len(nal) == 0 {
			continue
		}
		switch nal[0] & 0x1f {
		case nalTypeSPS:
			sps = append(sps, nal)
		case nalTypePPS:
			pps = append(pps, nal)
		}
	}
	if len(sps) == 0 || len(pps) == 0 {
		return nil, fmt.Errorf("extradata has %d SPS and %d PPS units", len(sps), len(pps))
	}
	if len(sps[0]) < 4 {
		return nil, fmt.Errorf("SPS is too short: %d bytes", len(sps[0]))
	}

	var buf bytes.Buffer
	buf.WriteByte(1)
	buf.Write(sps[0][1:4]) // profile, compatibility, level
	buf.WriteByte(0xff)    // 4-byte NAL lengths
	buf.WriteByte(0xe0 | byte(len(sps)))
	for _, nal := range sps {
		binary.Write(&buf, binary.BigEndian, uint16(len(nal)))
		buf.Write(nal)
	}
	buf.WriteByte(byte(len(pps)))
	for _, nal := range pps {
		binary.Write(&buf, binary.BigEndian, uint16(len(nal)))
		buf.Write(nal)
	}
	return buf.Bytes(), nil
}
