package invalidation

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"
)

func TestLocalBus_Delivers(t *testing.T) {
	b := NewLocalBus()
	var got []Message
	unsub, err := b.Subscribe(t.Context(), func(_ context.Context, m Message) { got = append(got, m) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(t.Context(), Message{Origin: "a", IDs: []string{"1", "2"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || !slices.Equal(got[0].IDs, []string{"1", "2"}) {
		t.Fatalf("got %+v", got)
	}

	if err := unsub(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	_ = b.Publish(t.Context(), Message{IDs: []string{"3"}})
	if len(got) != 1 {
		t.Fatal("unsubscribed handler still called")
	}
}

func TestLocalBus_Closed(t *testing.T) {
	b := NewLocalBus()
	_ = b.Close()
	if err := b.Publish(t.Context(), Message{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish err = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(t.Context(), func(context.Context, Message) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Subscribe err = %v, want ErrClosed", err)
	}
}

func TestNATSBus_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	b, err := DialNATS(url, "spawncache.test."+t.Name(), nil)
	if err != nil {
		t.Fatalf("DialNATS: %v", err)
	}
	defer b.Close()

	got := make(chan Message, 1)
	unsub, err := b.Subscribe(t.Context(), func(_ context.Context, m Message) { got <- m })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := b.Publish(t.Context(), Message{Origin: "x", IDs: []string{"r1"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case m := <-got:
		if m.Origin != "x" || !slices.Equal(m.IDs, []string{"r1"}) {
			t.Fatalf("got %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}
