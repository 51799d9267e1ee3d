package transcode

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeConfig captures the fixed encode parameters passed to ffmpeg. The
// codec preset, pixel format, and container are not configurable: the
// downstream media server expects an FLV stream of H.264 main profile with
// AAC audio.
type EncodeConfig struct {
	// FrameRate drives -r; the keyframe interval is pinned to two seconds
	// worth of frames so the segmenter can cut aligned segments.
	FrameRate int
	// CRF is the constant rate factor for libx264.
	CRF int
	// AudioBitrateKbps drives -b:a; the audio sample rate is derived from it.
	AudioBitrateKbps int
	// PublishURL is the RTMP address the transcoder publishes into.
	PublishURL string
}

const (
	defaultFrameRate    = 25
	defaultCRF          = 25
	defaultAudioBitrate = 128
)

func (c EncodeConfig) withDefaults() EncodeConfig {
	if c.FrameRate <= 0 {
		c.FrameRate = defaultFrameRate
	}
	if c.CRF <= 0 {
		c.CRF = defaultCRF
	}
	if c.AudioBitrateKbps <= 0 {
		c.AudioBitrateKbps = defaultAudioBitrate
	}
	return c
}

// Args builds the ffmpeg argument vector: raw capture bytes on stdin,
// low-latency H.264/AAC encode, FLV out to the RTMP publish endpoint.
func Args(cfg EncodeConfig) ([]string, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.PublishURL) == "" {
		return nil, fmt.Errorf("publish URL is required")
	}
	return []string{
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-r", strconv.Itoa(cfg.FrameRate),
		"-g", strconv.Itoa(cfg.FrameRate * 2),
		"-keyint_min", strconv.Itoa(cfg.FrameRate),
		"-crf", strconv.Itoa(cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-sc_threshold", "0",
		"-profile:v", "main",
		"-level", "3.1",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", cfg.AudioBitrateKbps),
		"-ar", strconv.Itoa(cfg.AudioBitrateKbps * 1000 / 4),
		"-f", "flv",
		cfg.PublishURL,
	}, nil
}

// PublishURL assembles the RTMP endpoint the transcoder publishes to.
func PublishURL(addr, app, stream string) string {
	return fmt.Sprintf("rtmp://%s/%s/%s", strings.TrimSpace(addr), strings.Trim(app, "/"), strings.Trim(stream, "/"))
}
