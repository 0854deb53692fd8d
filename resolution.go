package screenrecorder

import (
	"fmt"
)

// Resolution is an output size preset. Presets other than ResolutionOriginal
// scale the screen to fit into the preset box preserving the aspect ratio.
type Resolution uint

const (
	ResolutionOriginal = Resolution(iota)
	Resolution480p
	Resolution720p
	Resolution1080p
	Resolution2K
	Resolution4K
	EndOfResolution
)

func (r Resolution) String() string {
	switch r {
	case ResolutionOriginal:
		return "original"
	case Resolution480p:
		return "480p"
	case Resolution720p:
		return "720p"
	case Resolution1080p:
		return "1080p"
	case Resolution2K:
		return "2k"
	case Resolution4K:
		return "4k"
	}
	return fmt.Sprintf("unexpected_resolution_%d", uint(r))
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Resolution) UnmarshalText(b []byte) error {
	return unmarshalEnum([]byte(trimLower(string(b))), r, ResolutionOriginal, EndOfResolution, "Resolution")
}

// Box returns the bounding box of the preset, or (0, 0) for ResolutionOriginal.
func (r Resolution) Box() (uint32, uint32) {
	switch r {
	case Resolution480p:
		return 640, 480
	case Resolution720p:
		return 1280, 720
	case Resolution1080p:
		return 1920, 1080
	case Resolution2K:
		return 2560, 1440
	case Resolution4K:
		return 3840, 2160
	}
	return 0, 0
}

// Dimensions returns the output size for a screen of the given size.
// The result is rounded down to even numbers (chroma subsampling requires that).
func (r Resolution) Dimensions(screenWidth, screenHeight uint32) (uint32, uint32) {
	if screenWidth == 0 || screenHeight == 0 {
		return 0, 0
	}
	boxW, boxH := r.Box()
	if boxW == 0 {
		return even(screenWidth), even(screenHeight)
	}

	sw, sh, bw, bh := uint64(screenWidth), uint64(screenHeight), uint64(boxW), uint64(boxH)
	if sw*bh > bw*sh {
		// wider than the box
		return even(boxW), even(uint32(bw * sh / sw))
	}
	return even(uint32(bh * sw / sh)), even(boxH)
}

// PreferredResolution picks the highest preset not exceeding the screen height.
func PreferredResolution(screenWidth, screenHeight uint32) Resolution {
	switch {
	case screenHeight >= 2160:
		return Resolution4K
	case screenHeight >= 1440:
		return Resolution2K
	case screenHeight >= 1080:
		return Resolution1080p
	case screenHeight >= 720:
		return Resolution720p
	case screenHeight >= 480:
		return Resolution480p
	}
	return ResolutionOriginal
}

func even(v uint32) uint32 {
	v &^= 1
	if v < 2 {
		return 2
	}
	return v
}
