package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "schedule-events", map[string]string{"stage": "DAY_DONE"})
	if err != nil || id1 != "mem-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "schedule-events", "payload")
	if err != nil || id2 != "mem-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "mem-1" || msgs[0].Topic != "schedule-events" {
		t.Fatalf("first message not recorded correctly: %+v", msgs[0])
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFailureInjection(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("broker down"))
	if _, err := pub.Publish(context.Background(), "t", "x"); err == nil {
		t.Fatal("expected injected failure")
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publish must not be recorded")
	}

	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "t", "x"); err != nil {
		t.Fatalf("expected recovery after clearing failure, got %v", err)
	}
}
