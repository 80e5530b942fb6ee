package domain

import "time"

// StreamKey identifies a single publish session and the room bound to it.
type StreamKey string

// CodecPolicy controls which codecs the transcoder produces for a room's
// streams. The primary codec is always produced; the secondary codec only
// when enabled. The orchestrator snapshots the policy at publish start, so
// toggling it mid-stream takes effect on the next publish.
type CodecPolicy struct {
	SecondaryCodecEnabled bool `json:"secondaryCodecEnabled"`
}

// Rendition is one (resolution, bitrate) variant of a codec's ladder.
type Rendition struct {
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"videoBitrateKbps"`
	AudioBitrateKbps int    `json:"audioBitrateKbps"`
}

// PublishEvent is the normalized form of an RTMP ingest callback. The HTTP
// hook adapter reduces whatever shape the ingest server posts into this one
// record before the orchestrator sees it.
type PublishEvent struct {
	Key  StreamKey
	Path string
	Addr string
}

// StreamStatus is the external summary of one active stream.
type StreamStatus struct {
	Key           StreamKey   `json:"streamKey"`
	PublisherAddr string      `json:"publisherAddr"`
	StartedAt     time.Time   `json:"startedAt"`
	RecordingPath string      `json:"recordingPath"`
	Codecs        []string    `json:"codecs"`
	Policy        CodecPolicy `json:"policy"`
}

// RecordingRecord is the catalog entry written when a stream ends. The
// recording file itself is a pass-through copy of the publisher's feed.
type RecordingRecord struct {
	StreamKey StreamKey `json:"streamKey"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Failed    bool      `json:"failed"`
}
