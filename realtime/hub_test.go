package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

func drain(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	done := make(chan struct{})
	time.AfterFunc(2*time.Second, func() { close(done) })
	events := make([]Event, 0, n)
	for len(events) < n {
		evt, ok := sub.Next(done)
		if !ok {
			t.Fatalf("stream closed after %d of %d events", len(events), n)
		}
		events = append(events, evt)
	}
	return events
}

func TestPublishPreservesPerSubscriberOrder(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	userID := uuid.New()
	sub, err := hub.Subscribe(Identity{UserID: userID})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	const n = 20
	for i := 0; i < n; i++ {
		hub.Publish(Event{
			Type:     fmt.Sprintf("EVENT_%02d", i),
			Audience: Audience{UserIDs: []string{userID.String()}},
		})
	}
	events := drain(t, sub, n)
	for i, evt := range events {
		if want := fmt.Sprintf("EVENT_%02d", i); evt.Type != want {
			t.Fatalf("event %d out of order: got %s want %s", i, evt.Type, want)
		}
	}
}

func TestAudienceTargeting(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	mediator, err := hub.Subscribe(Identity{
		UserID:       uuid.New(),
		Roles:        []models.Role{models.RoleMediator},
		MediatorCode: "MD-1",
		ParentCode:   "AG-1",
	})
	if err != nil {
		t.Fatalf("subscribe mediator: %v", err)
	}
	defer mediator.Close()
	agency, err := hub.Subscribe(Identity{
		UserID:       uuid.New(),
		Roles:        []models.Role{models.RoleAgency},
		MediatorCode: "AG-1",
	})
	if err != nil {
		t.Fatalf("subscribe agency: %v", err)
	}
	defer agency.Close()
	outsider, err := hub.Subscribe(Identity{UserID: uuid.New(), MediatorCode: "MD-9"})
	if err != nil {
		t.Fatalf("subscribe outsider: %v", err)
	}
	defer outsider.Close()

	hub.Publish(Event{
		Type: "ORDER_UPDATED",
		Audience: Audience{
			MediatorCodes: []string{"MD-1"},
			AgencyCodes:   []string{"AG-1"},
		},
	})
	hub.Publish(Event{Type: "MARKER", Audience: Audience{Broadcast: true}})

	if got := drain(t, mediator, 2); got[0].Type != "ORDER_UPDATED" {
		t.Fatalf("mediator missed targeted event: %s", got[0].Type)
	}
	if got := drain(t, agency, 2); got[0].Type != "ORDER_UPDATED" {
		t.Fatalf("agency missed targeted event: %s", got[0].Type)
	}
	// The outsider only sees the broadcast marker.
	if got := drain(t, outsider, 1); got[0].Type != "MARKER" {
		t.Fatalf("outsider received targeted event: %s", got[0].Type)
	}
}

func TestOverflowDropsOldestAndFlags(t *testing.T) {
	hub := NewHub(WithQueueDepth(4))
	defer hub.Close()

	userID := uuid.New()
	sub, err := hub.Subscribe(Identity{UserID: userID})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 6; i++ {
		hub.Publish(Event{
			Type:     fmt.Sprintf("EVENT_%d", i),
			Audience: Audience{UserIDs: []string{userID.String()}},
		})
	}

	events := drain(t, sub, 5)
	if events[0].Type != OverflowEvent {
		t.Fatalf("expected OVERFLOW first, got %s", events[0].Type)
	}
	// The two oldest events were dropped; the rest stay in order.
	want := []string{"EVENT_2", "EVENT_3", "EVENT_4", "EVENT_5"}
	for i, w := range want {
		if events[i+1].Type != w {
			t.Fatalf("event %d: got %s want %s", i, events[i+1].Type, w)
		}
	}
}

func TestSubscriberCapRefusesNewStreams(t *testing.T) {
	hub := NewHub(WithMaxSubscribers(2))
	defer hub.Close()

	for i := 0; i < 2; i++ {
		sub, err := hub.Subscribe(Identity{UserID: uuid.New()})
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		defer sub.Close()
	}
	if _, err := hub.Subscribe(Identity{UserID: uuid.New()}); err != ErrHubFull {
		t.Fatalf("expected ErrHubFull, got %v", err)
	}
	if hub.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.SubscriberCount())
	}
}

func TestCloseUnblocksNext(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub, err := hub.Subscribe(Identity{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	result := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(nil)
		result <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case ok := <-result:
		if ok {
			t.Fatal("Next returned an event after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock after Close")
	}
	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}
}
