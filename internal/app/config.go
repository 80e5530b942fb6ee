package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"classcast/internal/domain"
)

type Config struct {
	HTTPAddr            string
	RTMPURL             string // base ingest URL; the stream key is appended
	StreamsDir          string
	RecordingsDir       string
	FFMPEGPath          string
	HardwareAccel       bool
	SegmentDuration     int // seconds
	PlaylistWindow      int // segments kept in each variant playlist
	CleanupGraceSeconds int
	ChatRetention       int
	FrameRate           int // assumed ingest frame rate, used for GOP sizing
	H264Renditions      []domain.Rendition
	HEVCRenditions      []domain.Rendition
	MongoURI            string // empty disables the recording catalog
	MongoDatabase       string
	LogLevel            string
	LogFormat           string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		RTMPURL:             strings.TrimRight(getEnv("RTMP_URL", "rtmp://127.0.0.1:1935/live"), "/"),
		StreamsDir:          getEnv("STREAMS_DIR", "streams"),
		RecordingsDir:       getEnv("RECORDINGS_DIR", "recordings"),
		FFMPEGPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		HardwareAccel:       getEnvBool("HW_ACCEL", false),
		SegmentDuration:     getEnvInt("SEGMENT_DURATION_SECONDS", 1),
		PlaylistWindow:      getEnvInt("PLAYLIST_WINDOW_SEGMENTS", 5),
		CleanupGraceSeconds: getEnvInt("CLEANUP_GRACE_SECONDS", 10),
		ChatRetention:       getEnvInt("CHAT_RETENTION", 50),
		FrameRate:           getEnvInt("FRAME_RATE", 30),
		MongoURI:            getEnv("MONGO_URI", ""),
		MongoDatabase:       getEnv("MONGO_DB", "classcast"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	var err error
	cfg.H264Renditions, err = parseRenditions(os.Getenv("RENDITIONS_H264"), defaultH264Renditions)
	if err != nil {
		return Config{}, fmt.Errorf("RENDITIONS_H264: %w", err)
	}
	cfg.HEVCRenditions, err = parseRenditions(os.Getenv("RENDITIONS_HEVC"), defaultHEVCRenditions)
	if err != nil {
		return Config{}, fmt.Errorf("RENDITIONS_HEVC: %w", err)
	}

	return cfg, nil
}

var defaultH264Renditions = []domain.Rendition{
	{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128},
	{Name: "480p", Width: 854, Height: 480, VideoBitrateKbps: 1400, AudioBitrateKbps: 128},
	{Name: "360p", Width: 640, Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 96},
}

var defaultHEVCRenditions = []domain.Rendition{
	{Name: "720p", Width: 1280, Height: 720, VideoBitrateKbps: 1800, AudioBitrateKbps: 128},
	{Name: "480p", Width: 854, Height: 480, VideoBitrateKbps: 900, AudioBitrateKbps: 96},
}

// parseRenditions decodes a rendition table of the form
// "name:WxH:videoKbps:audioKbps,...". An empty value yields the defaults.
func parseRenditions(raw string, defaults []domain.Rendition) ([]domain.Rendition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaults, nil
	}

	entries := strings.Split(raw, ",")
	renditions := make([]domain.Rendition, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("entry %q: want name:WxH:videoKbps:audioKbps", entry)
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("entry %q: empty name", entry)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("entry %q: duplicate name", entry)
		}
		seen[name] = struct{}{}

		dims := strings.SplitN(strings.ToLower(parts[1]), "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("entry %q: bad resolution", entry)
		}
		width, werr := strconv.Atoi(strings.TrimSpace(dims[0]))
		height, herr := strconv.Atoi(strings.TrimSpace(dims[1]))
		video, verr := strconv.Atoi(strings.TrimSpace(parts[2]))
		audio, aerr := strconv.Atoi(strings.TrimSpace(parts[3]))
		if werr != nil || herr != nil || verr != nil || aerr != nil {
			return nil, fmt.Errorf("entry %q: non-numeric field", entry)
		}
		if width <= 0 || height <= 0 || video <= 0 || audio <= 0 {
			return nil, fmt.Errorf("entry %q: fields must be positive", entry)
		}

		renditions = append(renditions, domain.Rendition{
			Name:             name,
			Width:            width,
			Height:           height,
			VideoBitrateKbps: video,
			AudioBitrateKbps: audio,
		})
	}
	if len(renditions) == 0 {
		return defaults, nil
	}
	return renditions, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
