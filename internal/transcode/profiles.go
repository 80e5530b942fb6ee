package transcode

import "classcast/internal/domain"

// CodecProfile binds a codec tag to its encoder implementations and the
// rendition ladder it produces. Renditions are ordered highest first.
type CodecProfile struct {
	Tag             string
	SoftwareEncoder string
	HardwareEncoder string
	SoftwareOpts    []string
	HardwareOpts    []string
	Renditions      []domain.Rendition
}

// H264Profile is the primary codec. The software path trades quality for
// latency (zerolatency disables lookahead and B-frames).
func H264Profile(renditions []domain.Rendition) CodecProfile {
	return CodecProfile{
		Tag:             "h264",
		SoftwareEncoder: "libx264",
		HardwareEncoder: "h264_nvenc",
		SoftwareOpts:    []string{"-preset", "veryfast", "-tune", "zerolatency", "-pix_fmt", "yuv420p"},
		HardwareOpts:    []string{"-preset", "p4", "-tune", "ll", "-pix_fmt", "yuv420p"},
		Renditions:      renditions,
	}
}

// HEVCProfile is the secondary codec, gated by the room's codec policy.
func HEVCProfile(renditions []domain.Rendition) CodecProfile {
	return CodecProfile{
		Tag:             "hevc",
		SoftwareEncoder: "libx265",
		HardwareEncoder: "hevc_nvenc",
		SoftwareOpts:    []string{"-preset", "veryfast", "-tune", "zerolatency", "-pix_fmt", "yuv420p"},
		HardwareOpts:    []string{"-preset", "p4", "-tune", "ll", "-pix_fmt", "yuv420p"},
		Renditions:      renditions,
	}
}
