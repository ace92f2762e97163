package media

import (
	"strings"

	"github.com/elsehu/supportdesk/internal/provider"
)

// ValidContent decides whether downloaded bytes plausibly are the media
// kind the webhook announced. Gateways under churn are known to serve an
// HTML error page or a JSON error body with a 200 status, so the declared
// content type is cross-checked against the leading bytes.
func ValidContent(kind, contentType string, data []byte) bool {
	ct := strings.ToLower(contentType)

	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/json") {
		return false
	}

	switch kind {
	case provider.MediaImage:
		return strings.HasPrefix(ct, "image/") || looksLikeImage(data)
	case provider.MediaAudio:
		return strings.HasPrefix(ct, "audio/") || looksLikeAudio(data)
	case provider.MediaDocument:
		return strings.HasPrefix(ct, "application/") ||
			strings.HasPrefix(ct, "text/plain") ||
			ct == "application/octet-stream"
	}
	return false
}

func looksLikeImage(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	jpeg := data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff
	png := data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4e && data[3] == 0x47
	gif := data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38
	webp := len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP"
	return jpeg || png || gif || webp
}

func looksLikeAudio(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	id3 := data[0] == 0x49 && data[1] == 0x44 && data[2] == 0x33
	// MPEG audio frame sync: 11 set bits.
	mpegFrame := data[0] == 0xff && data[1]&0xe0 == 0xe0
	ogg := data[0] == 0x4f && data[1] == 0x67 && data[2] == 0x67 && data[3] == 0x53
	wave := len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE"
	return id3 || mpegFrame || ogg || wave
}
