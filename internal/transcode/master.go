package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"classcast/internal/domain"
)

// WriteMasterPlaylist writes the master playlist for one codec, referencing
// the variant playlists the transcoder produces. It is written right after
// spawn (the variants appear within a segment duration) and overwritten on
// each fresh publish of the same key.
func WriteMasterPlaylist(dir string, key domain.StreamKey, codec CodecProfile) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range codec.Renditions {
		bandwidth := (r.VideoBitrateKbps + r.AudioBitrateKbps) * 1000
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", bandwidth, r.Width, r.Height)
		fmt.Fprintf(&b, "%s_%s_%s.m3u8\n", key, codec.Tag, r.Name)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.m3u8", key, codec.Tag))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return path, nil
}
