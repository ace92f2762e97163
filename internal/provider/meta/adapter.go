// Package meta integrates with the official WhatsApp Business Cloud API.
package meta

import (
	"encoding/json"
	"fmt"

	"github.com/elsehu/supportdesk/internal/provider"
)

// Adapter normalizes Meta webhook payloads. One delivery can fan out to
// several phone numbers, so events carry their own instance refs.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) Kind() provider.Kind { return provider.KindMeta }

type webhookPayload struct {
	Entry []entry `json:"entry"`
}

type entry struct {
	Changes []change `json:"changes"`
}

type change struct {
	Value changeValue `json:"value"`
}

type changeValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []contact `json:"contacts"`
	Messages []message `json:"messages"`
	Statuses []status  `json:"statuses"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type message struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

type status struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Normalize walks every entry and change in the delivery. Messages without
// a text body are skipped; the Cloud API delivers media through a separate
// download flow this platform does not subscribe to.
func (a *Adapter) Normalize(payload []byte) ([]provider.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode meta payload: %w", err)
	}

	var events []provider.Event
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			events = append(events, normalizeChange(ch.Value)...)
		}
	}
	return events, nil
}

func normalizeChange(v changeValue) []provider.Event {
	instance := v.Metadata.PhoneNumberID

	var events []provider.Event
	for _, m := range v.Messages {
		if m.Type != "text" || m.Text == nil || m.Text.Body == "" {
			events = append(events, provider.Ignored{Instance: instance, Reason: "unsupported message type " + m.Type})
			continue
		}
		events = append(events, provider.InboundEvent{
			Instance:    instance,
			ExternalID:  m.ID,
			Phone:       provider.NormalizePhone(m.From),
			ProfileName: profileName(v.Contacts, m.From),
			Content:     m.Text.Body,
		})
	}
	for _, s := range v.Statuses {
		if s.ID == "" || s.Status == "" {
			continue
		}
		events = append(events, provider.StatusUpdate{
			Instance:   instance,
			ExternalID: s.ID,
			Status:     s.Status,
		})
	}
	return events
}

func profileName(contacts []contact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

// VerifySubscription implements the GET handshake Meta performs when a
// webhook is registered: mode must be "subscribe" and the token must match
// the configured one. The returned string is the challenge to echo back.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" {
		return "", fmt.Errorf("unexpected hub.mode %q", mode)
	}
	if expectedToken == "" || token != expectedToken {
		return "", fmt.Errorf("verify token mismatch")
	}
	return challenge, nil
}
