package transcode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteMasterPlaylist(t *testing.T) {
	dir := t.TempDir()
	codec := H264Profile(testRenditions())

	path, err := WriteMasterPlaylist(dir, "k1", codec)
	if err != nil {
		t.Fatalf("WriteMasterPlaylist: %v", err)
	}
	if path != filepath.Join(dir, "k1_h264.m3u8") {
		t.Fatalf("unexpected path %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	content := string(data)

	if !strings.HasPrefix(content, "#EXTM3U\n#EXT-X-VERSION:3\n") {
		t.Fatalf("missing header:\n%s", content)
	}
	for _, want := range []string{
		"#EXT-X-STREAM-INF:BANDWIDTH=2928000,RESOLUTION=1280x720\nk1_h264_720p.m3u8\n",
		"#EXT-X-STREAM-INF:BANDWIDTH=1528000,RESOLUTION=854x480\nk1_h264_480p.m3u8\n",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("missing %q in:\n%s", want, content)
		}
	}
}

func TestWriteMasterPlaylistOverwrites(t *testing.T) {
	dir := t.TempDir()
	codec := H264Profile(testRenditions())

	if _, err := WriteMasterPlaylist(dir, "k1", codec); err != nil {
		t.Fatalf("first write: %v", err)
	}

	codec.Renditions = codec.Renditions[:1]
	path, err := WriteMasterPlaylist(dir, "k1", codec)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}
	if strings.Contains(string(data), "480p") {
		t.Fatalf("playlist not overwritten:\n%s", data)
	}
}
