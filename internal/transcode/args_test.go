package transcode

import (
	"reflect"
	"testing"
)

func TestArgsDefaults(t *testing.T) {
	args, err := Args(EncodeConfig{PublishURL: "rtmp://localhost:1935/live/stream"})
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	expected := []string{
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-r", "25",
		"-g", "50",
		"-keyint_min", "25",
		"-crf", "25",
		"-pix_fmt", "yuv420p",
		"-sc_threshold", "0",
		"-profile:v", "main",
		"-level", "3.1",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "32000",
		"-f", "flv",
		"rtmp://localhost:1935/live/stream",
	}
	if !reflect.DeepEqual(args, expected) {
		t.Fatalf("unexpected args:\n got %v\nwant %v", args, expected)
	}
}

func TestArgsCustomRates(t *testing.T) {
	args, err := Args(EncodeConfig{
		FrameRate:        30,
		CRF:              23,
		AudioBitrateKbps: 96,
		PublishURL:       "rtmp://origin:1935/live/cam",
	})
	if err != nil {
		t.Fatalf("Args: %v", err)
	}
	assertPair := func(flag, want string) {
		t.Helper()
		for i := 0; i < len(args)-1; i++ {
			if args[i] == flag {
				if args[i+1] != want {
					t.Fatalf("%s = %q, want %q", flag, args[i+1], want)
				}
				return
			}
		}
		t.Fatalf("flag %s not found in %v", flag, args)
	}
	assertPair("-r", "30")
	assertPair("-g", "60")
	assertPair("-keyint_min", "30")
	assertPair("-b:a", "96k")
	assertPair("-ar", "24000")
}

func TestArgsRequiresPublishURL(t *testing.T) {
	if _, err := Args(EncodeConfig{}); err == nil {
		t.Fatal("expected error for missing publish URL")
	}
}

func TestPublishURL(t *testing.T) {
	got := PublishURL("localhost:1935", "live", "stream")
	if got != "rtmp://localhost:1935/live/stream" {
		t.Fatalf("unexpected publish URL %q", got)
	}
}
