package meta

import (
	"testing"

	"github.com/elsehu/supportdesk/internal/provider"
)

const sampleDelivery = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "100000000000001",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "5511999880000", "phone_number_id": "PHONE-1"},
				"contacts": [{"profile": {"name": "Alice"}, "wa_id": "5511999887766"}],
				"messages": [
					{"from": "5511999887766", "id": "wamid.A", "type": "text", "text": {"body": "hi"}},
					{"from": "5511999887766", "id": "wamid.B", "type": "image"}
				],
				"statuses": [{"id": "wamid.C", "status": "delivered"}]
			}
		}]
	}]
}`

func TestNormalizeDelivery(t *testing.T) {
	events, err := NewAdapter().Normalize([]byte(sampleDelivery))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	in, ok := events[0].(provider.InboundEvent)
	if !ok {
		t.Fatalf("expected InboundEvent first, got %T", events[0])
	}
	if in.Instance != "PHONE-1" {
		t.Errorf("instance = %q", in.Instance)
	}
	if in.Phone != "+5511999887766" {
		t.Errorf("phone = %q", in.Phone)
	}
	if in.ProfileName != "Alice" {
		t.Errorf("profile name = %q", in.ProfileName)
	}
	if in.Content != "hi" {
		t.Errorf("content = %q", in.Content)
	}

	if _, ok := events[1].(provider.Ignored); !ok {
		t.Fatalf("expected Ignored for image message, got %T", events[1])
	}

	su, ok := events[2].(provider.StatusUpdate)
	if !ok {
		t.Fatalf("expected StatusUpdate last, got %T", events[2])
	}
	if su.ExternalID != "wamid.C" || su.Status != "delivered" {
		t.Errorf("got %+v", su)
	}
}

func TestNormalizeEmptyDelivery(t *testing.T) {
	events, err := NewAdapter().Normalize([]byte(`{"entry": []}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestVerifySubscription(t *testing.T) {
	challenge, err := VerifySubscription("subscribe", "secret", "12345", "secret")
	if err != nil {
		t.Fatalf("VerifySubscription: %v", err)
	}
	if challenge != "12345" {
		t.Errorf("challenge = %q", challenge)
	}

	if _, err := VerifySubscription("subscribe", "wrong", "12345", "secret"); err == nil {
		t.Error("expected error for token mismatch")
	}
	if _, err := VerifySubscription("unsubscribe", "secret", "12345", "secret"); err == nil {
		t.Error("expected error for wrong mode")
	}
	if _, err := VerifySubscription("subscribe", "", "12345", ""); err == nil {
		t.Error("expected error when no token configured")
	}
}
