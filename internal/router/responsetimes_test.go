package router

import (
	"testing"
	"time"

	"github.com/elsehu/supportdesk/internal/store"
)

func msg(direction store.Direction, offsetSeconds int) store.Message {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return store.Message{
		Direction: direction,
		CreatedAt: base.Add(time.Duration(offsetSeconds) * time.Second),
	}
}

func TestResponseAveragesDirectionFlips(t *testing.T) {
	// Operator greets at t=0, customer answers at t=5, operator replies at
	// t=8: one customer gap of 5s, one operator gap of 3s.
	messages := []store.Message{
		msg(store.DirectionOutbound, 0),
		msg(store.DirectionInbound, 5),
		msg(store.DirectionOutbound, 8),
	}
	contact, operator := responseAverages(messages)
	if contact == nil || *contact != 5 {
		t.Errorf("contact avg = %v, want 5", contact)
	}
	if operator == nil || *operator != 3 {
		t.Errorf("operator avg = %v, want 3", operator)
	}
}

func TestResponseAveragesIgnoresSameDirectionRuns(t *testing.T) {
	// Three customer messages in a row then one reply: only the final flip
	// counts, as an operator sample.
	messages := []store.Message{
		msg(store.DirectionInbound, 0),
		msg(store.DirectionInbound, 10),
		msg(store.DirectionInbound, 20),
		msg(store.DirectionOutbound, 26),
	}
	contact, operator := responseAverages(messages)
	if contact != nil {
		t.Errorf("contact avg = %v, want nil", contact)
	}
	if operator == nil || *operator != 6 {
		t.Errorf("operator avg = %v, want 6", operator)
	}
}

func TestResponseAveragesFloorsMean(t *testing.T) {
	// Operator gaps of 3s and 4s average to 3.5, reported as 3.
	messages := []store.Message{
		msg(store.DirectionInbound, 0),
		msg(store.DirectionOutbound, 3),
		msg(store.DirectionInbound, 10),
		msg(store.DirectionOutbound, 14),
	}
	_, operator := responseAverages(messages)
	if operator == nil || *operator != 3 {
		t.Errorf("operator avg = %v, want 3", operator)
	}
}

func TestResponseAveragesTooFewMessages(t *testing.T) {
	contact, operator := responseAverages([]store.Message{msg(store.DirectionInbound, 0)})
	if contact != nil || operator != nil {
		t.Errorf("got %v/%v, want nil/nil", contact, operator)
	}
	contact, operator = responseAverages(nil)
	if contact != nil || operator != nil {
		t.Errorf("got %v/%v, want nil/nil", contact, operator)
	}
}

func TestResponseAveragesSingleDirection(t *testing.T) {
	messages := []store.Message{
		msg(store.DirectionInbound, 0),
		msg(store.DirectionInbound, 30),
	}
	contact, operator := responseAverages(messages)
	if contact != nil || operator != nil {
		t.Errorf("got %v/%v, want nil/nil for monologue", contact, operator)
	}
}
