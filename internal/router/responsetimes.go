package router

import (
	"github.com/elsehu/supportdesk/internal/store"
)

// responseAverages derives the two reporting metrics from a conversation's
// messages in chronological order. A gap from an outbound message to the
// next inbound one measures the customer; inbound to outbound measures the
// operator. Each average is the floor of the mean in whole seconds, nil
// when no gap of that kind exists or the conversation has fewer than two
// messages.
func responseAverages(messages []store.Message) (contact, operator *int32) {
	if len(messages) < 2 {
		return nil, nil
	}

	var (
		contactSum, operatorSum     int64
		contactCount, operatorCount int64
	)
	for i := 1; i < len(messages); i++ {
		prev, cur := messages[i-1], messages[i]
		gap := int64(cur.CreatedAt.Sub(prev.CreatedAt).Seconds())

		switch {
		case cur.Direction == store.DirectionInbound && prev.Direction == store.DirectionOutbound:
			contactSum += gap
			contactCount++
		case cur.Direction == store.DirectionOutbound && prev.Direction == store.DirectionInbound:
			operatorSum += gap
			operatorCount++
		}
	}

	if contactCount > 0 {
		v := int32(contactSum / contactCount)
		contact = &v
	}
	if operatorCount > 0 {
		v := int32(operatorSum / operatorCount)
		operator = &v
	}
	return contact, operator
}
