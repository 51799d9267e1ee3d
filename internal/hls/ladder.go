// Package hls declares the rendition ladder offered by a deployment and
// synthesizes the multi-rendition master playlist that adaptive clients
// consume. Segment and media-playlist files are produced by the external
// media server; this package only references their expected locations.
package hls

import (
	"fmt"
	"strconv"
	"strings"
)

// Profile describes one output rendition in the encoding ladder.
type Profile struct {
	// Name is the human-facing label, e.g. "720p".
	Name string `json:"name"`
	// Variant is the path component used for the rendition's playlist,
	// e.g. "720" yields <base>_720/index.m3u8.
	Variant string `json:"variant"`
	// VideoKbps and AudioKbps are the target encode bitrates.
	VideoKbps int `json:"videoKbps"`
	AudioKbps int `json:"audioKbps"`
	Width     int `json:"width"`
	Height    int `json:"height"`
	FPS       int `json:"fps"`
}

// Bandwidth returns the declared bandwidth in bits per second used for the
// playlist BANDWIDTH attribute: the audio+video bitrate sum. Adaptive clients
// use it for the initial rendition guess before real throughput is measured.
func (p Profile) Bandwidth() int {
	return (p.VideoKbps + p.AudioKbps) * 1000
}

// Resolution returns the WxH string used in playlist attributes.
func (p Profile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// DefaultLadder returns the built-in three-step ladder, highest quality
// first.
func DefaultLadder() []Profile {
	return []Profile{
		{Name: "720p", Variant: "720", VideoKbps: 1500, AudioKbps: 128, Width: 1280, Height: 720, FPS: 30},
		{Name: "480p", Variant: "480", VideoKbps: 1000, AudioKbps: 96, Width: 854, Height: 480, FPS: 24},
		{Name: "360p", Variant: "360", VideoKbps: 600, AudioKbps: 64, Width: 640, Height: 360, FPS: 20},
	}
}

// ValidateLadder checks the invariants the manifest synthesizer and client
// fallback logic rely on: a non-empty ladder, positive encode parameters,
// unique variant names, and descending declared bandwidth.
func ValidateLadder(ladder []Profile) error {
	if len(ladder) == 0 {
		return fmt.Errorf("ladder must declare at least one profile")
	}
	seen := make(map[string]struct{}, len(ladder))
	for i, profile := range ladder {
		if strings.TrimSpace(profile.Name) == "" {
			return fmt.Errorf("profile %d: name is required", i)
		}
		if strings.TrimSpace(profile.Variant) == "" {
			return fmt.Errorf("profile %q: variant is required", profile.Name)
		}
		if profile.VideoKbps <= 0 || profile.AudioKbps <= 0 {
			return fmt.Errorf("profile %q: bitrates must be positive", profile.Name)
		}
		if profile.Width <= 0 || profile.Height <= 0 || profile.FPS <= 0 {
			return fmt.Errorf("profile %q: resolution and framerate must be positive", profile.Name)
		}
		if _, dup := seen[profile.Variant]; dup {
			return fmt.Errorf("profile %q: duplicate variant %q", profile.Name, profile.Variant)
		}
		seen[profile.Variant] = struct{}{}
		if i > 0 && profile.Bandwidth() > ladder[i-1].Bandwidth() {
			return fmt.Errorf("profile %q: ladder must be ordered by descending bandwidth", profile.Name)
		}
	}
	return nil
}

// ParseLadder parses a comma separated ladder specification of the form
// "720p:1500:128:1280x720:30,480p:1000:96:854x480:24". The variant defaults
// to the name with a trailing "p" removed.
func ParseLadder(spec string) ([]Profile, error) {
	entries := strings.Split(spec, ",")
	profiles := make([]Profile, 0, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		parts := strings.Split(trimmed, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid ladder entry %q, expected name:videoKbps:audioKbps:WxH:fps", trimmed)
		}
		name := strings.TrimSpace(parts[0])
		video, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("ladder entry %q: parse video bitrate: %w", trimmed, err)
		}
		audio, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("ladder entry %q: parse audio bitrate: %w", trimmed, err)
		}
		width, height, err := parseResolution(strings.TrimSpace(parts[3]))
		if err != nil {
			return nil, fmt.Errorf("ladder entry %q: %w", trimmed, err)
		}
		fps, err := strconv.Atoi(strings.TrimSpace(parts[4]))
		if err != nil {
			return nil, fmt.Errorf("ladder entry %q: parse framerate: %w", trimmed, err)
		}
		profiles = append(profiles, Profile{
			Name:      name,
			Variant:   strings.TrimSuffix(name, "p"),
			VideoKbps: video,
			AudioKbps: audio,
			Width:     width,
			Height:    height,
			FPS:       fps,
		})
	}
	if err := ValidateLadder(profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func parseResolution(value string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(value), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q, expected WxH", value)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parse width: %w", err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parse height: %w", err)
	}
	return width, height, nil
}
