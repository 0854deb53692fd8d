package screenrecorder

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	goyaml "github.com/goccy/go-yaml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFrameRate      = 30
	DefaultSampleRate     = 44100
	DefaultChannels       = 2
	DefaultWindowDuration = 20 * time.Millisecond

	// original recorder uses 64-slot channels for raw frames
	DefaultVideoQueueSize = 64
	// and 128 for audio blocks
	DefaultAudioQueueSize = 128

	DefaultAudioPushTimeout    = 50 * time.Millisecond
	DefaultAudioStallTolerance = 500 * time.Millisecond
	DefaultSourceTimeout       = 100 * time.Millisecond
	DefaultStatusInterval      = time.Second
	DefaultJoinTimeout         = 5 * time.Second
)

type RecorderConfig struct {
	OutputPath  string       `json:"output_path"            yaml:"output_path"`
	Video       VideoConfig  `json:"video"                  yaml:"video"`
	Audio       AudioConfig  `json:"audio"                  yaml:"audio"`
	PushTargets []PushTarget `json:"push_targets,omitempty" yaml:"push_targets,omitempty"`

	// SourceTimeout is how long capture workers wait for a single frame/block.
	SourceTimeout  time.Duration `json:"source_timeout,omitempty"  yaml:"source_timeout,omitempty"`
	StatusInterval time.Duration `json:"status_interval,omitempty" yaml:"status_interval,omitempty"`
	JoinTimeout    time.Duration `json:"join_timeout,omitempty"    yaml:"join_timeout,omitempty"`
}

// PushTarget is an additional live destination the recording is streamed to.
type PushTarget struct {
	URL       string `json:"url"                  yaml:"url"`
	StreamKey string `json:"stream_key,omitempty" yaml:"stream_key,omitempty"`
}

func DefaultConfig() RecorderConfig {
	return RecorderConfig{
		Video: VideoConfig{
			Enabled:       true,
			Resolution:    ResolutionOriginal,
			FrameRate:     DefaultFrameRate,
			Codec:         VideoCodecMJPEG,
			PixelFormat:   PixelFormatRGBA,
			Scaler:        ScalerQualityApproxBiLinear,
			CursorOverlay: true,
			QueueSize:     DefaultVideoQueueSize,
		},
		Audio: AudioConfig{
			SampleRate:     DefaultSampleRate,
			Channels:       DefaultChannels,
			Codec:          AudioCodecPCM,
			WindowDuration: DefaultWindowDuration,
			QueueSize:      DefaultAudioQueueSize,
			PushTimeout:    DefaultAudioPushTimeout,
			StallTolerance: DefaultAudioStallTolerance,
		},
		SourceTimeout:  DefaultSourceTimeout,
		StatusInterval: DefaultStatusInterval,
		JoinTimeout:    DefaultJoinTimeout,
	}
}

// ParseConfig parses a YAML config on top of DefaultConfig.
func ParseConfig(b []byte) (RecorderConfig, error) {
	cfg := DefaultConfig()
	if err := goyaml.Unmarshal(b, &cfg); err != nil {
		return RecorderConfig{}, fmt.Errorf("unable to parse the config: %w", err)
	}
	return cfg, nil
}

func LoadConfig(path string) (RecorderConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RecorderConfig{}, fmt.Errorf("unable to read file '%s': %w", path, err)
	}
	return ParseConfig(b)
}

func (cfg RecorderConfig) Validate() error {
	if cfg.OutputPath == "" {
		return ConfigError{Field: "output_path", Reason: "is empty"}
	}
	tracks := 0
	if cfg.Video.Enabled {
		if err := cfg.Video.Validate(); err != nil {
			return err
		}
		tracks++
	}
	if len(cfg.Audio.EnabledSources()) > 0 {
		if err := cfg.Audio.Validate(); err != nil {
			return err
		}
		tracks++
	}
	if tracks == 0 {
		return ConfigError{Reason: "no track is enabled"}
	}
	for idx, t := range cfg.PushTargets {
		if t.URL == "" {
			return ConfigError{Field: fmt.Sprintf("push_targets[%d].url", idx), Reason: "is empty"}
		}
	}
	return nil
}

// WithDefaults fills zero-valued tunables with defaults.
func (cfg RecorderConfig) WithDefaults() RecorderConfig {
	def := DefaultConfig()
	if cfg.Video.QueueSize <= 0 {
		cfg.Video.QueueSize = def.Video.QueueSize
	}
	if cfg.Video.PixelFormat == PixelFormatUndefined {
		cfg.Video.PixelFormat = def.Video.PixelFormat
	}
	if cfg.Video.Scaler == ScalerQualityUndefined {
		cfg.Video.Scaler = def.Video.Scaler
	}
	if cfg.Audio.QueueSize <= 0 {
		cfg.Audio.QueueSize = def.Audio.QueueSize
	}
	if cfg.Audio.WindowDuration <= 0 {
		cfg.Audio.WindowDuration = def.Audio.WindowDuration
	}
	if cfg.Audio.PushTimeout <= 0 {
		cfg.Audio.PushTimeout = def.Audio.PushTimeout
	}
	if cfg.Audio.StallTolerance <= 0 {
		cfg.Audio.StallTolerance = def.Audio.StallTolerance
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = def.SourceTimeout
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	return cfg
}

type VideoConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ScreenWidth and ScreenHeight are the dimensions of the captured surface.
	ScreenWidth  uint32 `json:"screen_width,omitempty"  yaml:"screen_width,omitempty"`
	ScreenHeight uint32 `json:"screen_height,omitempty" yaml:"screen_height,omitempty"`

	// Width and Height override Resolution if both are set.
	Resolution Resolution `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	Width      uint32     `json:"width,omitempty"      yaml:"width,omitempty"`
	Height     uint32     `json:"height,omitempty"     yaml:"height,omitempty"`

	FrameRate     uint32        `json:"frame_rate"             yaml:"frame_rate"`
	Codec         VideoCodec    `json:"codec,omitempty"        yaml:"codec,omitempty"`
	Quality       VideoQuality  `json:"quality,omitempty"      yaml:"quality,omitempty"`
	PixelFormat   PixelFormat   `json:"pixel_format,omitempty" yaml:"pixel_format,omitempty"`
	Scaler        ScalerQuality `json:"scaler,omitempty"       yaml:"scaler,omitempty"`
	CursorOverlay bool          `json:"cursor_overlay"         yaml:"cursor_overlay"`
	QueueSize     int           `json:"queue_size,omitempty"   yaml:"queue_size,omitempty"`
	CustomOptions CustomOptions `json:"-"                      yaml:"-"`
}

// OutputSize returns the resolution frames are encoded at.
func (cfg VideoConfig) OutputSize() (uint32, uint32) {
	if cfg.Width != 0 && cfg.Height != 0 {
		return cfg.Width, cfg.Height
	}
	return cfg.Resolution.Dimensions(cfg.ScreenWidth, cfg.ScreenHeight)
}

// ScreenSize returns the dimensions of the captured surface; if they are
// not configured, the output size is assumed.
func (cfg VideoConfig) ScreenSize() (uint32, uint32) {
	if cfg.ScreenWidth != 0 && cfg.ScreenHeight != 0 {
		return cfg.ScreenWidth, cfg.ScreenHeight
	}
	return cfg.OutputSize()
}

func (cfg VideoConfig) Validate() error {
	w, h := cfg.OutputSize()
	if w == 0 || h == 0 {
		return ConfigError{Field: "video.resolution", Reason: fmt.Sprintf("output resolution %dx%d is empty", w, h)}
	}
	if cfg.FrameRate == 0 {
		return ConfigError{Field: "video.frame_rate", Reason: "is zero"}
	}
	if cfg.Codec == VideoCodecUndefined || cfg.Codec >= EndOfVideoCodec {
		return ConfigError{Field: "video.codec", Reason: fmt.Sprintf("unsupported codec %s", cfg.Codec)}
	}
	switch cfg.PixelFormat {
	case PixelFormatUndefined, PixelFormatRGBA, PixelFormatI420:
	default:
		return ConfigError{Field: "video.pixel_format", Reason: fmt.Sprintf("unsupported encoder input %s", cfg.PixelFormat)}
	}
	return nil
}

func (c *VideoConfig) UnmarshalJSON(b []byte) (_err error) {
	type plain VideoConfig
	cpy := (*plain)(c)
	cpy.Quality = &videoQualitySerializable{}
	err := json.Unmarshal(b, cpy)
	if err != nil {
		return fmt.Errorf("unable to un-JSON-ize: %w", err)
	}
	s, ok := c.Quality.(*videoQualitySerializable)
	if !ok {
		c.Quality = nil
		return nil
	}
	c.Quality, err = s.Convert()
	if err != nil {
		return fmt.Errorf("unable to convert the 'quality' field: %w", err)
	}
	return nil
}

func (c *VideoConfig) UnmarshalYAML(b []byte) (_err error) {
	quality, err := unmarshalYAMLWithQuality(b, c)
	if err != nil {
		return fmt.Errorf("unable to unmarshal VideoConfig: %w", err)
	}
	c.Quality = nil
	if quality != nil {
		s := videoQualitySerializable{}
		if err := yaml.Unmarshal(quality, &s); err != nil {
			return fmt.Errorf("unable to un-YAML-ize the 'quality' field: %w", err)
		}
		c.Quality, err = s.Convert()
		if err != nil {
			return fmt.Errorf("unable to convert the 'quality' field: %w", err)
		}
	}
	return nil
}

func (c VideoConfig) MarshalYAML() ([]byte, error) {
	if c.Quality != nil {
		c.Quality = c.Quality.serializable()
	}
	return yaml.Marshal(c)
}

type AudioSourceConfig struct {
	ID      AudioSourceID   `json:"id"                yaml:"id"`
	Kind    AudioSourceKind `json:"kind"              yaml:"kind"`
	Enabled bool            `json:"enabled"           yaml:"enabled"`
	GainDB  float64         `json:"gain_db,omitempty" yaml:"gain_db,omitempty"`
}

type AudioConfig struct {
	Sources    []AudioSourceConfig `json:"sources,omitempty" yaml:"sources,omitempty"`
	SampleRate uint32              `json:"sample_rate"       yaml:"sample_rate"`
	Channels   uint16              `json:"channels"          yaml:"channels"`
	Codec      AudioCodec          `json:"codec,omitempty"   yaml:"codec,omitempty"`
	Quality    AudioQuality        `json:"quality,omitempty" yaml:"quality,omitempty"`

	// NoiseReduction enables denoising of microphone sources.
	NoiseReduction bool `json:"noise_reduction" yaml:"noise_reduction"`

	// WindowDuration is the granularity of mixing.
	WindowDuration time.Duration `json:"window_duration,omitempty" yaml:"window_duration,omitempty"`
	QueueSize      int           `json:"queue_size,omitempty"      yaml:"queue_size,omitempty"`

	// PushTimeout is how long a capture worker may block on a full queue
	// before the block is substituted with silence.
	PushTimeout time.Duration `json:"push_timeout,omitempty" yaml:"push_timeout,omitempty"`

	// StallTolerance is how far the audio timeline may lag behind the clock
	// before silence is inserted for all sources.
	StallTolerance time.Duration `json:"stall_tolerance,omitempty" yaml:"stall_tolerance,omitempty"`

	CustomOptions CustomOptions `json:"-" yaml:"-"`
}

func (cfg AudioConfig) EnabledSources() []AudioSourceConfig {
	var result []AudioSourceConfig
	for _, src := range cfg.Sources {
		if src.Enabled {
			result = append(result, src)
		}
	}
	return result
}

func (cfg AudioConfig) Validate() error {
	if cfg.SampleRate == 0 {
		return ConfigError{Field: "audio.sample_rate", Reason: "is zero"}
	}
	if cfg.Channels == 0 || cfg.Channels > 2 {
		return ConfigError{Field: "audio.channels", Reason: fmt.Sprintf("expected 1 or 2, got %d", cfg.Channels)}
	}
	if cfg.Codec == AudioCodecUndefined || cfg.Codec >= EndOfAudioCodec {
		return ConfigError{Field: "audio.codec", Reason: fmt.Sprintf("unsupported codec %s", cfg.Codec)}
	}
	seen := map[AudioSourceID]struct{}{}
	for idx, src := range cfg.Sources {
		if src.ID == "" {
			return ConfigError{Field: fmt.Sprintf("audio.sources[%d].id", idx), Reason: "is empty"}
		}
		if _, ok := seen[src.ID]; ok {
			return ConfigError{Field: fmt.Sprintf("audio.sources[%d].id", idx), Reason: fmt.Sprintf("duplicate source '%s'", src.ID)}
		}
		seen[src.ID] = struct{}{}
		if src.Kind == AudioSourceKindUndefined || src.Kind >= EndOfAudioSourceKind {
			return ConfigError{Field: fmt.Sprintf("audio.sources[%d].kind", idx), Reason: "unknown source kind"}
		}
	}
	return nil
}

func (c *AudioConfig) UnmarshalJSON(b []byte) (_err error) {
	type plain AudioConfig
	cpy := (*plain)(c)
	cpy.Quality = &audioQualitySerializable{}
	err := json.Unmarshal(b, cpy)
	if err != nil {
		return fmt.Errorf("unable to un-JSON-ize: %w", err)
	}
	s, ok := c.Quality.(*audioQualitySerializable)
	if !ok {
		c.Quality = nil
		return nil
	}
	c.Quality, err = s.Convert()
	if err != nil {
		return fmt.Errorf("unable to convert the 'quality' field: %w", err)
	}
	return nil
}

func (c *AudioConfig) UnmarshalYAML(b []byte) (_err error) {
	quality, err := unmarshalYAMLWithQuality(b, c)
	if err != nil {
		return fmt.Errorf("unable to unmarshal AudioConfig: %w", err)
	}
	c.Quality = nil
	if quality != nil {
		s := audioQualitySerializable{}
		if err := yaml.Unmarshal(quality, &s); err != nil {
			return fmt.Errorf("unable to un-YAML-ize the 'quality' field: %w", err)
		}
		c.Quality, err = s.Convert()
		if err != nil {
			return fmt.Errorf("unable to convert the 'quality' field: %w", err)
		}
	}
	return nil
}

func (c AudioConfig) MarshalYAML() ([]byte, error) {
	if c.Quality != nil {
		c.Quality = c.Quality.serializable()
	}
	return yaml.Marshal(c)
}

// unmarshalYAMLWithQuality decodes everything except the polymorphic
// 'quality' field into dst, and returns that field re-marshaled (or nil).
func unmarshalYAMLWithQuality(b []byte, dst any) ([]byte, error) {
	m := map[string]any{}
	err := yaml.Unmarshal(b, m)
	if err != nil {
		return nil, fmt.Errorf("unable to unmarshal the bytes to a map: %w", err)
	}
	quality := m["quality"]
	delete(m, "quality")
	b, err = yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("unable to remarshal the map: %w", err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return nil, fmt.Errorf("unable to un-YAML-ize: %w", err)
	}
	if quality == nil {
		return nil, nil
	}
	qb, err := yaml.Marshal(quality)
	if err != nil {
		return nil, fmt.Errorf("unable to remarshal the 'quality' field: %w", err)
	}
	return qb, nil
}

func numericValue(v any) (uint, bool) {
	switch v := v.(type) {
	case int:
		return uint(v), v >= 0
	case int64:
		return uint(v), v >= 0
	case uint:
		return v, true
	case uint64:
		return uint(v), true
	case float64:
		return uint(v), v >= 0
	}
	return 0, false
}

type AudioQuality interface {
	audioQuality()
	typeName() string
	serializable() audioQualitySerializable
	setValues(vq audioQualitySerializable) error
}

type AudioQualityConstantBitrate uint

func (AudioQualityConstantBitrate) typeName() string {
	return "constant_bitrate"
}

func (AudioQualityConstantBitrate) audioQuality() {}

func (aq AudioQualityConstantBitrate) serializable() audioQualitySerializable {
	return map[string]any{
		"type":    aq.typeName(),
		"bitrate": uint(aq),
	}
}

func (aq AudioQualityConstantBitrate) MarshalJSON() ([]byte, error) {
	return json.Marshal(aq.serializable())
}

func (aq AudioQualityConstantBitrate) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(aq.serializable())
}

func (aq *AudioQualityConstantBitrate) setValues(in audioQualitySerializable) error {
	bitrateR := in["bitrate"]
	bitrate, ok := numericValue(bitrateR)
	if !ok {
		return fmt.Errorf("have not found a numeric value using key 'bitrate' in %#+v, found %T, instead", in, bitrateR)
	}

	*aq = AudioQualityConstantBitrate(bitrate)
	return nil
}

type audioQualitySerializable map[string]any

func (audioQualitySerializable) audioQuality() {}

func (aq audioQualitySerializable) typeName() string {
	result, _ := aq["type"].(string)
	return result
}

func (aq audioQualitySerializable) serializable() audioQualitySerializable {
	return aq
}

func (aq audioQualitySerializable) setValues(in audioQualitySerializable) error {
	for k := range aq {
		delete(aq, k)
	}
	maps.Copy(aq, in)
	return nil
}

func (aq audioQualitySerializable) Convert() (AudioQuality, error) {
	typeName, ok := aq["type"].(string)
	if !ok {
		return nil, nil
	}

	var r AudioQuality
	for _, sample := range []AudioQuality{
		ptr(AudioQualityConstantBitrate(0)),
	} {
		if sample.typeName() == typeName {
			r = sample
			break
		}
	}
	if r == nil {
		return nil, fmt.Errorf("unknown type '%s'", typeName)
	}

	if err := r.setValues(aq); err != nil {
		return nil, fmt.Errorf("unable to convert the value (aq): %w", err)
	}
	return r, nil
}

type AudioCodec uint

const (
	AudioCodecUndefined = AudioCodec(iota)
	AudioCodecPCM
	AudioCodecAAC
	EndOfAudioCodec
)

func (ac AudioCodec) String() string {
	switch ac {
	case AudioCodecUndefined:
		return "<undefined>"
	case AudioCodecPCM:
		return "pcm"
	case AudioCodecAAC:
		return "aac"
	}
	return fmt.Sprintf("unexpected_audio_codec_id_%d", uint(ac))
}

func (ac AudioCodec) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ac.String() + `"`), nil
}

func (ac *AudioCodec) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, ac, AudioCodecUndefined, EndOfAudioCodec, "AudioCodec")
}

func (ac AudioCodec) MarshalText() ([]byte, error) {
	return []byte(ac.String()), nil
}

func (ac *AudioCodec) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, ac, AudioCodecUndefined, EndOfAudioCodec, "AudioCodec")
}

type VideoQuality interface {
	videoQuality()
	typeName() string
	serializable() videoQualitySerializable
	setValues(vq videoQualitySerializable) error
}

type VideoQualityConstantBitrate uint

func (VideoQualityConstantBitrate) typeName() string {
	return "constant_bitrate"
}

func (VideoQualityConstantBitrate) videoQuality() {}

func (vq VideoQualityConstantBitrate) serializable() videoQualitySerializable {
	return videoQualitySerializable{
		"type":    vq.typeName(),
		"bitrate": uint(vq),
	}
}

func (vq VideoQualityConstantBitrate) MarshalJSON() ([]byte, error) {
	return json.Marshal(vq.serializable())
}

func (vq VideoQualityConstantBitrate) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(vq.serializable())
}

func (vq *VideoQualityConstantBitrate) setValues(in videoQualitySerializable) error {
	bitrate, ok := numericValue(in["bitrate"])
	if !ok {
		return fmt.Errorf("have not found a numeric value using key 'bitrate' in %#+v", in)
	}

	*vq = VideoQualityConstantBitrate(bitrate)
	return nil
}

// VideoQualityConstantQuality is a codec-independent quality in range [1..100],
// higher is better.
type VideoQualityConstantQuality uint8

func (VideoQualityConstantQuality) typeName() string {
	return "constant_quality"
}

func (VideoQualityConstantQuality) videoQuality() {}

func (vq VideoQualityConstantQuality) serializable() videoQualitySerializable {
	return videoQualitySerializable{
		"type":    vq.typeName(),
		"quality": uint(vq),
	}
}

func (vq VideoQualityConstantQuality) MarshalJSON() ([]byte, error) {
	return json.Marshal(vq.serializable())
}

func (vq VideoQualityConstantQuality) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(vq.serializable())
}

func (vq *VideoQualityConstantQuality) setValues(in videoQualitySerializable) error {
	quality, ok := numericValue(in["quality"])
	if !ok {
		return fmt.Errorf("have not found a numeric value using key 'quality' in %#+v", in)
	}
	if quality > 100 {
		return fmt.Errorf("quality %d is out of range [0..100]", quality)
	}

	*vq = VideoQualityConstantQuality(quality)
	return nil
}

type videoQualitySerializable map[string]any

func (videoQualitySerializable) videoQuality() {}

func (vq videoQualitySerializable) typeName() string {
	result, _ := vq["type"].(string)
	return result
}

func (vq videoQualitySerializable) serializable() videoQualitySerializable {
	return vq
}

func (vq videoQualitySerializable) setValues(in videoQualitySerializable) error {
	for k := range vq {
		delete(vq, k)
	}
	maps.Copy(vq, in)
	return nil
}

func (vq videoQualitySerializable) Convert() (VideoQuality, error) {
	typeName, ok := vq["type"].(string)
	if !ok {
		return nil, nil
	}

	var r VideoQuality
	for _, sample := range []VideoQuality{
		ptr(VideoQualityConstantBitrate(0)),
		ptr(VideoQualityConstantQuality(0)),
	} {
		if sample.typeName() == typeName {
			r = sample
			break
		}
	}
	if r == nil {
		return nil, fmt.Errorf("unknown type '%s'", typeName)
	}

	if err := r.setValues(vq); err != nil {
		return nil, fmt.Errorf("unable to convert the value (vq): %w", err)
	}
	return r, nil
}

func ptr[T any](in T) *T {
	return &in
}

type VideoCodec uint

const (
	VideoCodecUndefined = VideoCodec(iota)
	VideoCodecMJPEG
	VideoCodecH264
	VideoCodecHEVC
	EndOfVideoCodec
)

func (vc VideoCodec) String() string {
	switch vc {
	case VideoCodecUndefined:
		return "<undefined>"
	case VideoCodecMJPEG:
		return "mjpeg"
	case VideoCodecH264:
		return "h264"
	case VideoCodecHEVC:
		return "hevc"
	}
	return fmt.Sprintf("unexpected_video_codec_id_%d", uint(vc))
}

func (vc VideoCodec) MarshalJSON() ([]byte, error) {
	return []byte(`"` + vc.String() + `"`), nil
}

func (vc *VideoCodec) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, vc, VideoCodecUndefined, EndOfVideoCodec, "VideoCodec")
}

func (vc VideoCodec) MarshalText() ([]byte, error) {
	return []byte(vc.String()), nil
}

func (vc *VideoCodec) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, vc, VideoCodecUndefined, EndOfVideoCodec, "VideoCodec")
}

type ScalerQuality uint

const (
	ScalerQualityUndefined = ScalerQuality(iota)
	ScalerQualityNearest
	ScalerQualityApproxBiLinear
	ScalerQualityBiLinear
	ScalerQualityCatmullRom
	EndOfScalerQuality
)

func (q ScalerQuality) String() string {
	switch q {
	case ScalerQualityUndefined:
		return "<undefined>"
	case ScalerQualityNearest:
		return "nearest"
	case ScalerQualityApproxBiLinear:
		return "approx_bilinear"
	case ScalerQualityBiLinear:
		return "bilinear"
	case ScalerQualityCatmullRom:
		return "catmull_rom"
	}
	return fmt.Sprintf("unexpected_scaler_quality_%d", uint(q))
}

func (q ScalerQuality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *ScalerQuality) UnmarshalText(b []byte) error {
	return unmarshalEnum(b, q, ScalerQualityUndefined, EndOfScalerQuality, "ScalerQuality")
}

func trimLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
