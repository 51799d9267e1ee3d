package hls

import (
	"fmt"
	"strings"
)

// Codecs identifies the fixed encode preset produced by the transcoder:
// H.264 main profile level 3.1 video with AAC-LC audio.
const Codecs = "avc1.4d401f,mp4a.40.2"

// MasterPlaylist renders the top-level multi-rendition playlist for the
// given ladder and playback base URL. Entries appear in ladder order
// (descending bandwidth) and each rendition resolves to
// <base>_<variant>/index.m3u8.
//
// The function is pure: given the same ladder and base URL it produces
// byte-identical output, so callers may regenerate it per request.
func MasterPlaylist(ladder []Profile, baseURL string) (string, error) {
	if err := ValidateLadder(ladder); err != nil {
		return "", err
	}
	base := strings.TrimSpace(baseURL)
	if base == "" {
		return "", fmt.Errorf("base URL is required")
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, profile := range ladder {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,FRAME-RATE=%d,CODECS=%q\n",
			profile.Bandwidth(), profile.Resolution(), profile.FPS, Codecs)
		fmt.Fprintf(&b, "%s_%s/index.m3u8\n", base, profile.Variant)
	}
	return b.String(), nil
}

// RenditionURL resolves the playback URL for a single profile under the
// given base, using the same layout as MasterPlaylist.
func RenditionURL(profile Profile, baseURL string) string {
	return fmt.Sprintf("%s_%s/index.m3u8", strings.TrimSpace(baseURL), profile.Variant)
}
