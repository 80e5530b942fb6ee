package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ArgConfig holds all parameters for building the encoder command line.
type ArgConfig struct {
	IngestURL       string // full RTMP URL including the stream key
	StreamKey       string
	OutputDir       string // HLS playlists and segments
	RecordingPath   string // pass-through archival output
	Codecs          []CodecProfile
	HardwareAccel   bool
	SegmentDuration int
	PlaylistWindow  int
	FrameRate       int
}

// BuildArgs constructs the ffmpeg argument list: one HLS output block per
// codec plus a codec-copy recording output, all fed from a single RTMP
// input.
func BuildArgs(cfg ArgConfig) []string {
	segDur := cfg.SegmentDuration
	if segDur <= 0 {
		segDur = 1
	}
	window := cfg.PlaylistWindow
	if window <= 0 {
		window = 5
	}
	frameRate := cfg.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", cfg.IngestURL,
	}

	for _, codec := range cfg.Codecs {
		args = append(args, hlsOutputArgs(cfg, codec, segDur, window, frameRate)...)
	}

	// Archival pass-through: the publisher's original audio/video, no
	// re-encoding.
	args = append(args,
		"-map", "0",
		"-c", "copy",
		"-f", "flv",
		cfg.RecordingPath,
	)

	return args
}

func hlsOutputArgs(cfg ArgConfig, codec CodecProfile, segDur, window, frameRate int) []string {
	var args []string

	for range codec.Renditions {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0")
	}

	encoder := codec.SoftwareEncoder
	opts := codec.SoftwareOpts
	if cfg.HardwareAccel {
		encoder = codec.HardwareEncoder
		opts = codec.HardwareOpts
	}
	args = append(args, "-c:v", encoder)
	args = append(args, opts...)

	// Keyframes forced at segment boundaries so every segment is
	// independently decodable; scene-cut insertion is disabled.
	args = append(args,
		"-g", strconv.Itoa(frameRate*segDur),
		"-keyint_min", strconv.Itoa(frameRate*segDur),
	)
	if !cfg.HardwareAccel {
		args = append(args, "-sc_threshold", "0")
	}

	for i, r := range codec.Renditions {
		bitrate := fmt.Sprintf("%dk", r.VideoBitrateKbps)
		args = append(args,
			fmt.Sprintf("-filter:v:%d", i), fmt.Sprintf("scale=%d:%d", r.Width, r.Height),
			fmt.Sprintf("-b:v:%d", i), bitrate,
			fmt.Sprintf("-maxrate:v:%d", i), bitrate,
			fmt.Sprintf("-bufsize:v:%d", i), fmt.Sprintf("%dk", 2*r.VideoBitrateKbps),
		)
	}

	args = append(args, "-c:a", "aac", "-ar", "44100", "-ac", "2")
	for i, r := range codec.Renditions {
		args = append(args, fmt.Sprintf("-b:a:%d", i), fmt.Sprintf("%dk", r.AudioBitrateKbps))
	}

	streamParts := make([]string, len(codec.Renditions))
	for i, r := range codec.Renditions {
		streamParts[i] = fmt.Sprintf("v:%d,a:%d,name:%s", i, i, r.Name)
	}

	prefix := cfg.StreamKey + "_" + codec.Tag
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(segDur),
		"-hls_list_size", strconv.Itoa(window),
		"-hls_flags", "delete_segments+independent_segments",
		"-hls_segment_filename", filepath.Join(cfg.OutputDir, prefix+"_%v_%03d.ts"),
		"-var_stream_map", strings.Join(streamParts, " "),
		filepath.Join(cfg.OutputDir, prefix+"_%v.m3u8"),
	)

	return args
}
