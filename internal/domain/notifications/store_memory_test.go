package notifications

import (
	"context"
	"testing"
)

func TestMemoryStoreThroughService(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := New(store, nil)

	for _, title := range []string{"first", "second", "third"} {
		if err := svc.Notify(ctx, "e1", "revision_requested", title, "body"); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if err := svc.Notify(ctx, "e2", "revision_requested", "other", "body"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	page, err := svc.List(ctx, "e1", 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 notifications on the page, got %d", len(page))
	}
	if empty, _ := svc.List(ctx, "e1", 10, 10); len(empty) != 0 {
		t.Fatalf("expected empty page past the end")
	}

	if err := svc.MarkRead(ctx, "e1", page[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(ctx, "e2", page[1].ID); err != nil {
		t.Fatalf("mark read for other recipient: %v", err)
	}
	if unread, _ := svc.CountUnread(ctx, "e1"); unread != 2 {
		t.Fatalf("expected 2 unread, got %d", unread)
	}
}
