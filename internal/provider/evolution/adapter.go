// Package evolution integrates with the Evolution API, an unofficial
// WhatsApp gateway. It covers webhook normalization and the outbound HTTP
// client.
package evolution

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/elsehu/supportdesk/internal/provider"
)

const (
	stickerNotice = "We received a sticker, but this media type is not supported yet."
	videoNotice   = "We received a video, but this media type is not supported yet."
)

// Adapter normalizes Evolution webhook payloads.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) Kind() provider.Kind { return provider.KindEvolution }

type webhookPayload struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Data     messageData `json:"data"`
}

type messageData struct {
	Key      messageKey      `json:"key"`
	PushName string          `json:"pushName"`
	Status   string          `json:"status"`
	Message  *messageContent `json:"message"`
}

type messageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type messageContent struct {
	Conversation        string          `json:"conversation"`
	ExtendedTextMessage *extendedText   `json:"extendedTextMessage"`
	ImageMessage        *mediaMessage   `json:"imageMessage"`
	AudioMessage        *mediaMessage   `json:"audioMessage"`
	DocumentMessage     *mediaMessage   `json:"documentMessage"`
	StickerMessage      json.RawMessage `json:"stickerMessage"`
	VideoMessage        json.RawMessage `json:"videoMessage"`
}

type extendedText struct {
	Text string `json:"text"`
}

type mediaMessage struct {
	URL        string   `json:"url"`
	Mimetype   string   `json:"mimetype"`
	FileName   string   `json:"fileName"`
	Title      string   `json:"title"`
	Caption    string   `json:"caption"`
	FileLength sizeWord `json:"fileLength"`
}

// Normalize turns one Evolution webhook delivery into events. Unhandled
// event names and discarded messages come back as Ignored so callers can
// count them.
func (a *Adapter) Normalize(payload []byte) ([]provider.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode evolution payload: %w", err)
	}

	switch p.Event {
	case "messages.upsert":
		return []provider.Event{a.normalizeUpsert(p)}, nil
	case "messages.update":
		return []provider.Event{a.normalizeUpdate(p)}, nil
	default:
		return []provider.Event{provider.Ignored{Instance: p.Instance, Reason: "unhandled event " + p.Event}}, nil
	}
}

func (a *Adapter) normalizeUpsert(p webhookPayload) provider.Event {
	d := p.Data
	if d.Key.FromMe {
		return provider.Ignored{Instance: p.Instance, Reason: "own message"}
	}
	if provider.IsGroupJID(d.Key.RemoteJID) {
		return provider.Ignored{Instance: p.Instance, Reason: "group message"}
	}

	ev := provider.InboundEvent{
		Instance:    p.Instance,
		ExternalID:  d.Key.ID,
		Phone:       provider.NormalizePhone(d.Key.RemoteJID),
		ProfileName: d.PushName,
	}
	// Anything other than the standard user suffix means the gateway may
	// have handed us an id replies cannot reach.
	if suffix := provider.JIDSuffix(d.Key.RemoteJID); suffix != "" && suffix != "s.whatsapp.net" {
		ev.OddSuffix = suffix
	}

	msg := d.Message
	if msg == nil {
		return provider.Ignored{Instance: p.Instance, Reason: "empty message"}
	}

	ev.Content = extractText(msg)
	ev.Media = extractMedia(msg, d.Key.ID)

	if ev.Content == "" && ev.Media == nil {
		switch {
		case len(msg.StickerMessage) > 0:
			ev.Content = stickerNotice
		case len(msg.VideoMessage) > 0:
			ev.Content = videoNotice
		}
		// Anything else still comes back as an InboundEvent: a contact
		// reaching out with content we cannot represent must still open
		// a conversation, it just stores no message.
	}
	return ev
}

func (a *Adapter) normalizeUpdate(p webhookPayload) provider.Event {
	d := p.Data
	if d.Key.ID == "" || d.Status == "" {
		return provider.Ignored{Instance: p.Instance, Reason: "incomplete status update"}
	}
	return provider.StatusUpdate{
		Instance:   p.Instance,
		ExternalID: d.Key.ID,
		Status:     d.Status,
	}
}

func extractText(msg *messageContent) string {
	if msg.Conversation != "" {
		return msg.Conversation
	}
	if msg.ExtendedTextMessage != nil {
		return msg.ExtendedTextMessage.Text
	}
	return ""
}

func extractMedia(msg *messageContent, externalID string) *provider.Media {
	switch {
	case msg.ImageMessage != nil:
		m := msg.ImageMessage
		return buildMedia(provider.MediaImage, m, "image/jpeg",
			fallbackName(m, "image-"+externalID+".jpg"))
	case msg.AudioMessage != nil:
		m := msg.AudioMessage
		return buildMedia(provider.MediaAudio, m, "audio/mpeg",
			fallbackName(m, "audio-"+externalID+".mp3"))
	case msg.DocumentMessage != nil:
		m := msg.DocumentMessage
		name := m.FileName
		if name == "" {
			name = m.Title
		}
		if name == "" {
			name = "document-" + externalID
		}
		return buildMedia(provider.MediaDocument, m, "application/octet-stream", name)
	}
	return nil
}

func buildMedia(kind string, m *mediaMessage, defaultMime, fileName string) *provider.Media {
	media := &provider.Media{
		Kind:      kind,
		Mime:      m.Mimetype,
		FileName:  fileName,
		SizeBytes: m.FileLength.value,
	}
	if media.Mime == "" {
		media.Mime = defaultMime
	}
	if m.URL != "" {
		url := m.URL
		media.URL = &url
	}
	if m.Caption != "" {
		caption := m.Caption
		media.Caption = &caption
	}
	return media
}

func fallbackName(m *mediaMessage, fallback string) string {
	if m.FileName != "" {
		return m.FileName
	}
	return fallback
}

// sizeWord decodes Evolution's fileLength field, which arrives as a JSON
// number, a decimal string, or a protobuf long split into {low, high}
// 32-bit words. Values are clamped to the int32 range used by storage.
type sizeWord struct {
	value *int32
}

func (s *sizeWord) UnmarshalJSON(b []byte) error {
	s.value = nil
	if len(b) == 0 || string(b) == "null" {
		return nil
	}

	var asNumber float64
	if err := json.Unmarshal(b, &asNumber); err == nil {
		s.value = clampSize(asNumber)
		return nil
	}

	var asString string
	if err := json.Unmarshal(b, &asString); err == nil {
		n, err := strconv.ParseFloat(asString, 64)
		if err != nil {
			return nil
		}
		s.value = clampSize(n)
		return nil
	}

	var words struct {
		Low  int64 `json:"low"`
		High int64 `json:"high"`
	}
	if err := json.Unmarshal(b, &words); err == nil {
		combined := uint64(uint32(words.High))<<32 | uint64(uint32(words.Low))
		s.value = clampSize(float64(combined))
	}
	return nil
}

func clampSize(n float64) *int32 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	v := int32(n)
	return &v
}
