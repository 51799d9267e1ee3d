package server

import "net/http"

// SecurityConfig controls the response headers that harden the capture and
// playback pages. Zero values fall back to defaults that permit the bundled
// client plus the HLS playback origin and nothing else.
type SecurityConfig struct {
	// MediaOrigin is the HLS playback origin the client fetches playlists
	// and segments from, e.g. http://127.0.0.1:8000.
	MediaOrigin           string
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = "DENY"
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = "no-referrer"
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = "nosniff"
	}
	if cfg.ContentSecurityPolicy == "" {
		// The capture page needs websockets back to this host, media and
		// playlist fetches from the playback origin, and blob: URLs for
		// MediaSource playback.
		connect := "'self' ws: wss:"
		media := "'self' blob:"
		if cfg.MediaOrigin != "" {
			connect += " " + cfg.MediaOrigin
			media += " " + cfg.MediaOrigin
		}
		cfg.ContentSecurityPolicy = "default-src 'self'; " +
			"connect-src " + connect + "; " +
			"media-src " + media + "; " +
			"img-src 'self' data:; " +
			"script-src 'self' https://cdn.jsdelivr.net; " +
			"style-src 'self' 'unsafe-inline'; " +
			"object-src 'none'; " +
			"base-uri 'self'; " +
			"frame-ancestors 'none'"
	}
	return cfg
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		w.Header().Set("X-Frame-Options", effective.FrameOptions)
		w.Header().Set("X-Content-Type-Options", effective.ContentTypeOptions)
		w.Header().Set("Referrer-Policy", effective.ReferrerPolicy)
		next.ServeHTTP(w, r)
	})
}
