package evolution

import (
	"testing"

	"github.com/elsehu/supportdesk/internal/provider"
)

func normalizeOne(t *testing.T, payload string) provider.Event {
	t.Helper()
	events, err := NewAdapter().Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	return events[0]
}

func TestNormalizeTextMessage(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "fromMe": false, "id": "WAMID-1"},
			"pushName": "Alice",
			"message": {"conversation": "hello there"}
		}
	}`)

	in, ok := ev.(provider.InboundEvent)
	if !ok {
		t.Fatalf("expected InboundEvent, got %T", ev)
	}
	if in.Instance != "support-main" {
		t.Errorf("instance = %q", in.Instance)
	}
	if in.Phone != "+5511999887766" {
		t.Errorf("phone = %q", in.Phone)
	}
	if in.Content != "hello there" {
		t.Errorf("content = %q", in.Content)
	}
	if in.ExternalID != "WAMID-1" {
		t.Errorf("external id = %q", in.ExternalID)
	}
	if in.OddSuffix != "" {
		t.Errorf("unexpected odd suffix %q", in.OddSuffix)
	}
}

func TestNormalizeExtendedText(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "id": "WAMID-2"},
			"message": {"extendedTextMessage": {"text": "linked reply"}}
		}
	}`)
	in := ev.(provider.InboundEvent)
	if in.Content != "linked reply" {
		t.Fatalf("content = %q", in.Content)
	}
}

func TestNormalizeDiscardsOwnMessages(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "fromMe": true, "id": "WAMID-3"},
			"message": {"conversation": "sent by us"}
		}
	}`)
	ig, ok := ev.(provider.Ignored)
	if !ok {
		t.Fatalf("expected Ignored, got %T", ev)
	}
	if ig.Reason != "own message" {
		t.Errorf("reason = %q", ig.Reason)
	}
}

func TestNormalizeDiscardsGroupMessages(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "123456-789@g.us", "id": "WAMID-4"},
			"message": {"conversation": "group chatter"}
		}
	}`)
	if _, ok := ev.(provider.Ignored); !ok {
		t.Fatalf("expected Ignored, got %T", ev)
	}
}

func TestNormalizeFlagsOddSuffix(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "123456789012345@lid", "id": "WAMID-5"},
			"message": {"conversation": "still processed"}
		}
	}`)
	in, ok := ev.(provider.InboundEvent)
	if !ok {
		t.Fatalf("expected InboundEvent, got %T", ev)
	}
	if in.OddSuffix != "lid" {
		t.Errorf("odd suffix = %q", in.OddSuffix)
	}
	if in.Content != "still processed" {
		t.Errorf("content = %q", in.Content)
	}
}

func TestNormalizeImageMedia(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "id": "WAMID-6"},
			"message": {"imageMessage": {
				"url": "/files/abc.enc",
				"mimetype": "image/jpeg",
				"caption": "look at this",
				"fileLength": "204800"
			}}
		}
	}`)
	in := ev.(provider.InboundEvent)
	if in.Media == nil {
		t.Fatal("expected media descriptor")
	}
	if in.Media.Kind != provider.MediaImage {
		t.Errorf("kind = %q", in.Media.Kind)
	}
	if in.Media.URL == nil || *in.Media.URL != "/files/abc.enc" {
		t.Errorf("url = %v", in.Media.URL)
	}
	if in.Media.Caption == nil || *in.Media.Caption != "look at this" {
		t.Errorf("caption = %v", in.Media.Caption)
	}
	if in.Media.SizeBytes == nil || *in.Media.SizeBytes != 204800 {
		t.Errorf("size = %v", in.Media.SizeBytes)
	}
	if in.Media.FileName != "image-WAMID-6.jpg" {
		t.Errorf("file name = %q", in.Media.FileName)
	}
}

func TestNormalizeSplitWordFileLength(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "id": "WAMID-7"},
			"message": {"documentMessage": {
				"url": "https://files.example/doc.pdf",
				"mimetype": "application/pdf",
				"fileName": "report.pdf",
				"fileLength": {"low": 1048576, "high": 0, "unsigned": true}
			}}
		}
	}`)
	in := ev.(provider.InboundEvent)
	if in.Media == nil || in.Media.SizeBytes == nil {
		t.Fatal("expected media size")
	}
	if *in.Media.SizeBytes != 1048576 {
		t.Errorf("size = %d", *in.Media.SizeBytes)
	}
}

func TestNormalizeOversizedFileLengthClamped(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "id": "WAMID-8"},
			"message": {"documentMessage": {
				"url": "https://files.example/huge.bin",
				"fileLength": {"low": 0, "high": 4}
			}}
		}
	}`)
	in := ev.(provider.InboundEvent)
	if in.Media == nil || in.Media.SizeBytes == nil {
		t.Fatal("expected media size")
	}
	if *in.Media.SizeBytes != 2147483647 {
		t.Errorf("size = %d, want int32 max", *in.Media.SizeBytes)
	}
}

func TestNormalizeStickerBecomesNotice(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.upsert",
		"instance": "support-main",
		"data": {
			"key": {"remoteJid": "5511999887766@s.whatsapp.net", "id": "WAMID-9"},
			"message": {"stickerMessage": {"url": "https://files.example/sticker.webp"}}
		}
	}`)
	in, ok := ev.(provider.InboundEvent)
	if !ok {
		t.Fatalf("expected InboundEvent, got %T", ev)
	}
	if in.Content != stickerNotice {
		t.Errorf("content = %q", in.Content)
	}
	if in.Media != nil {
		t.Error("notice must not carry media")
	}
}

func TestNormalizeStatusUpdate(t *testing.T) {
	ev := normalizeOne(t, `{
		"event": "messages.update",
		"instance": "support-main",
		"data": {
			"key": {"id": "WAMID-10"},
			"status": "READ"
		}
	}`)
	su, ok := ev.(provider.StatusUpdate)
	if !ok {
		t.Fatalf("expected StatusUpdate, got %T", ev)
	}
	if su.ExternalID != "WAMID-10" || su.Status != "READ" {
		t.Errorf("got %+v", su)
	}
}

func TestNormalizeUnhandledEvent(t *testing.T) {
	ev := normalizeOne(t, `{"event": "connection.update", "instance": "support-main", "data": {}}`)
	if _, ok := ev.(provider.Ignored); !ok {
		t.Fatalf("expected Ignored, got %T", ev)
	}
}

func TestResolveMediaURL(t *testing.T) {
	creds := Credentials{ServerURL: "https://evo.example"}
	if got := ResolveMediaURL("/files/a.enc", creds); got != "https://evo.example/files/a.enc" {
		t.Errorf("got %q", got)
	}
	if got := ResolveMediaURL("https://cdn.example/b.enc", creds); got != "https://cdn.example/b.enc" {
		t.Errorf("absolute url must pass through, got %q", got)
	}
	if got := ResolveMediaURL("/files/a.enc", Credentials{}); got != "" {
		t.Errorf("expected empty result without server url, got %q", got)
	}
}
