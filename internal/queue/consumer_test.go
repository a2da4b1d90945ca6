package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNotificationPerKind(t *testing.T) {
	base := NotificationEvent{
		PatronID: 7, PatronEmail: "a@x", PatronName: "A",
		TitleName: "Dune", SentAt: "2025-06-01T12:00:00Z",
	}

	cases := []struct {
		kind string
		want string
	}{
		{NotifyReservationPending, "awaiting staff approval"},
		{NotifyReservationApproved, "was approved"},
		{NotifyReservationRejected, "was rejected"},
		{NotifyReservationReminder, "expires at"},
		{NotifyReservationExpired, "has expired"},
		{"something.else", "Unknown notification kind"},
	}
	for _, tc := range cases {
		ev := base
		ev.Kind = tc.kind
		line := formatNotification(ev)
		assert.Contains(t, line, tc.want, tc.kind)
		assert.Contains(t, line, "Dune")
		assert.Contains(t, line, "to=a@x")
	}
}

func TestHandleNotificationRejectsBadPayload(t *testing.T) {
	assert.Error(t, handleNotification([]byte("not json")))
}
