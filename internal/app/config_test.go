package app

import (
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SegmentDuration != 1 {
		t.Fatalf("SegmentDuration = %d, want 1", cfg.SegmentDuration)
	}
	if cfg.PlaylistWindow != 5 {
		t.Fatalf("PlaylistWindow = %d, want 5", cfg.PlaylistWindow)
	}
	if cfg.CleanupGraceSeconds != 10 {
		t.Fatalf("CleanupGraceSeconds = %d, want 10", cfg.CleanupGraceSeconds)
	}
	if cfg.ChatRetention != 50 {
		t.Fatalf("ChatRetention = %d, want 50", cfg.ChatRetention)
	}
	if len(cfg.H264Renditions) != 3 {
		t.Fatalf("H264Renditions = %d entries, want 3", len(cfg.H264Renditions))
	}
	if cfg.H264Renditions[0].Name != "720p" || cfg.H264Renditions[0].Width != 1280 {
		t.Fatalf("unexpected first h264 rendition: %+v", cfg.H264Renditions[0])
	}
	if len(cfg.HEVCRenditions) != 2 {
		t.Fatalf("HEVCRenditions = %d entries, want 2", len(cfg.HEVCRenditions))
	}
	if cfg.MongoURI != "" {
		t.Fatalf("MongoURI = %q, want empty default", cfg.MongoURI)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SEGMENT_DURATION_SECONDS", "2")
	t.Setenv("RTMP_URL", "rtmp://ingest:1935/live/")
	t.Setenv("HW_ACCEL", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SegmentDuration != 2 {
		t.Fatalf("SegmentDuration = %d, want 2", cfg.SegmentDuration)
	}
	if cfg.RTMPURL != "rtmp://ingest:1935/live" {
		t.Fatalf("RTMPURL = %q, want trailing slash trimmed", cfg.RTMPURL)
	}
	if !cfg.HardwareAccel {
		t.Fatal("HardwareAccel should be true")
	}
}

func TestParseRenditions(t *testing.T) {
	renditions, err := parseRenditions("1080p:1920x1080:5000:160, 360p:640x360:800:96", nil)
	if err != nil {
		t.Fatalf("parseRenditions: %v", err)
	}
	if len(renditions) != 2 {
		t.Fatalf("got %d renditions, want 2", len(renditions))
	}
	first := renditions[0]
	if first.Name != "1080p" || first.Width != 1920 || first.Height != 1080 ||
		first.VideoBitrateKbps != 5000 || first.AudioBitrateKbps != 160 {
		t.Fatalf("unexpected first rendition: %+v", first)
	}
}

func TestParseRenditionsEmptyUsesDefaults(t *testing.T) {
	renditions, err := parseRenditions("  ", defaultH264Renditions)
	if err != nil {
		t.Fatalf("parseRenditions: %v", err)
	}
	if len(renditions) != len(defaultH264Renditions) {
		t.Fatalf("got %d renditions, want defaults (%d)", len(renditions), len(defaultH264Renditions))
	}
}

func TestParseRenditionsRejectsMalformed(t *testing.T) {
	cases := []string{
		"720p:1280x720:2800",       // missing audio bitrate
		"720p:1280:2800:128",       // bad resolution
		"720p:1280x720:fast:128",   // non-numeric bitrate
		"720p:1280x720:-100:128",   // negative bitrate
		"720p:1280x720:2800:128,720p:854x480:1400:128", // duplicate name
	}
	for _, raw := range cases {
		if _, err := parseRenditions(raw, nil); err == nil {
			t.Fatalf("parseRenditions(%q) should fail", raw)
		}
	}
}
