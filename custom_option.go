package screenrecorder

type CustomOption = any
type CustomOptions []CustomOption

// CustomOptions understood by the encoder backends.
type (
	// EncoderName forces a specific encoder implementation (e.g. "h264_nvenc").
	EncoderName string

	// HardwareDeviceType selects a hardware acceleration API (e.g. "cuda", "vaapi").
	HardwareDeviceType string

	// HardwareDeviceName selects a device of the HardwareDeviceType.
	HardwareDeviceName string

	// KeyFrameInterval is the maximal amount of frames between key frames.
	KeyFrameInterval uint

	// EncoderOption is passed as is to the encoder as a key/value option.
	EncoderOption struct {
		Key   string
		Value string
	}
)

func GetCustomOption[T any](in CustomOptions) (T, bool) {
	for _, item := range in {
		v, ok := item.(T)
		if ok {
			return v, ok
		}
	}

	var zeroValue T
	return zeroValue, false
}

// GetCustomOptions returns all the options of type T in order.
func GetCustomOptions[T any](in CustomOptions) []T {
	var result []T
	for _, item := range in {
		if v, ok := item.(T); ok {
			result = append(result, v)
		}
	}
	return result
}
