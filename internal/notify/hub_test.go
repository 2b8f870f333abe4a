package notify

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"cmdgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHub(buffer int) *Hub {
	return NewHub(HubConfig{BufferSize: buffer, Logger: testLogger()})
}

func recv(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

// --- PublishToUser ---

func TestPublishToUser_TargetsOnlyThatUser(t *testing.T) {
	h := newTestHub(4)
	mine := h.Subscribe("s1", "u1", domain.RoleMember)
	other := h.Subscribe("s2", "u2", domain.RoleMember)

	h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate, CommandID: "c1"})

	ev := recv(t, mine)
	if ev.CommandID != "c1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-other:
		t.Fatalf("u2 must not receive u1 events, got %+v", ev)
	default:
	}
}

func TestPublishToUser_AllSessionsOfUser(t *testing.T) {
	h := newTestHub(4)
	a := h.Subscribe("s1", "u1", domain.RoleMember)
	b := h.Subscribe("s2", "u1", domain.RoleMember)

	h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate, CommandID: "c1"})

	if recv(t, a).CommandID != "c1" || recv(t, b).CommandID != "c1" {
		t.Fatal("both sessions must receive the event")
	}
}

// --- PublishToAdmins ---

func TestPublishToAdmins(t *testing.T) {
	h := newTestHub(4)
	admin := h.Subscribe("sa", "a1", domain.RoleAdmin)
	member := h.Subscribe("sm", "u1", domain.RoleMember)

	h.PublishToAdmins(domain.Event{Type: domain.EventApprovalRequest, CommandID: "c1"})

	ev := recv(t, admin)
	if ev.Type != domain.EventApprovalRequest {
		t.Fatalf("unexpected event: %+v", ev)
	}
	select {
	case ev := <-member:
		t.Fatalf("member must not receive admin events, got %+v", ev)
	default:
	}
}

func TestForwarderReceivesAdminEvents(t *testing.T) {
	h := newTestHub(4)
	got := make(chan domain.Event, 1)
	h.AddForwarder(func(ev domain.Event) { got <- ev })

	h.PublishToAdmins(domain.Event{Type: domain.EventApprovalRequest, CommandID: "c1"})

	ev := recv(t, got)
	if ev.CommandID != "c1" {
		t.Fatalf("forwarder got %+v", ev)
	}
}

// --- Buffering ---

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := newTestHub(1)
	ch := h.Subscribe("s1", "u1", domain.RoleMember)

	// First fills the buffer, second must be dropped without blocking.
	h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate, Seq: 1})
	h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate, Seq: 2})

	ev := recv(t, ch)
	if ev.Seq != 1 {
		t.Fatalf("expected first event delivered, got seq %d", ev.Seq)
	}
	select {
	case ev := <-ch:
		t.Fatalf("second event should have been dropped, got %+v", ev)
	default:
	}
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	h := newTestHub(8)
	ch := h.Subscribe("s1", "u1", domain.RoleMember)

	for i := int64(1); i <= 5; i++ {
		h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate, Seq: i})
	}
	for i := int64(1); i <= 5; i++ {
		if ev := recv(t, ch); ev.Seq != i {
			t.Fatalf("expected seq %d in order, got %d", i, ev.Seq)
		}
	}
}

// --- Session lifecycle ---

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := newTestHub(4)
	ch := h.Subscribe("s1", "u1", domain.RoleMember)

	h.Unsubscribe("s1")

	if _, open := <-ch; open {
		t.Fatal("channel must be closed after unsubscribe")
	}

	// Publishing after unsubscribe is a no-op.
	h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate})
}

func TestResubscribeReplacesSession(t *testing.T) {
	h := newTestHub(4)
	old := h.Subscribe("s1", "u1", domain.RoleMember)
	fresh := h.Subscribe("s1", "u1", domain.RoleMember)

	if _, open := <-old; open {
		t.Fatal("old channel must be closed on resubscribe")
	}

	h.PublishToUser("u1", domain.Event{Type: domain.EventCommandUpdate, CommandID: "c1"})
	if recv(t, fresh).CommandID != "c1" {
		t.Fatal("fresh session must receive events")
	}
}
