package bus

import (
	"context"
	"testing"
	"time"

	"github.com/rovalabs/rova/event"
)

func TestInprocPublish(t *testing.T) {
	b := NewInproc()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(event.New("a", time.Now(), map[string]interface{}{"x": 1.0}))
	b.Publish(event.New("b", time.Now(), map[string]interface{}{"x": 2.0}))

	ev := <-ch
	if ev.Topic != "a" {
		t.Fatalf("topic %s", ev.Topic)
	}
	select {
	case ev := <-ch:
		t.Fatalf("leaked event for another topic: %v", ev)
	default:
	}
}

func TestInprocLifecycle(t *testing.T) {
	b := NewInproc()
	var gotActive, gotInactive bool
	b.NotifyActive(func() { gotActive = true })
	b.NotifyInactive(func() { gotInactive = true })
	b.Activate()
	b.Deactivate()
	if !gotActive || !gotInactive {
		t.Fatalf("%v %v", gotActive, gotInactive)
	}
}

func TestInprocLifecycleLatches(t *testing.T) {
	// A callback registered after the trigger fired must still run:
	// a node that announces itself before monitoring attaches would
	// otherwise never start the run.
	b := NewInproc()
	b.Activate()
	b.Deactivate()

	var gotActive, gotInactive bool
	b.NotifyActive(func() { gotActive = true })
	b.NotifyInactive(func() { gotInactive = true })
	if !gotActive || !gotInactive {
		t.Fatalf("%v %v", gotActive, gotInactive)
	}
}

func TestInprocPublishRacesCancel(t *testing.T) {
	b := NewInproc()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for range ch {
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish(event.New("a", time.Now(), map[string]interface{}{"i": i}))
		}
	}()

	// Ending the subscription mid-publish must neither panic the
	// publisher nor leave it blocked.
	cancel()
	<-done
}

func TestInprocSubscribeEndsWithContext(t *testing.T) {
	b := NewInproc()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	for range ch {
	}
	// Publishing after the subscription ended must not panic or
	// block.
	b.Publish(event.New("a", time.Now(), map[string]interface{}{"x": 1.0}))
}

func TestDecode(t *testing.T) {
	at := time.Now()

	ev := Decode("t", at, []byte(`{"linear":{"x":0.5}}`))
	if x, have := ev.Number("linear.x"); !have || x != 0.5 {
		t.Fatalf("%v", ev.Fields)
	}

	ev = Decode("t", at, []byte(`"reached 1"`))
	if d, _ := ev.Field("data"); d != "reached 1" {
		t.Fatalf("%v", ev.Fields)
	}

	ev = Decode("t", at, []byte(`reached 1`))
	if d, _ := ev.Field("data"); d != "reached 1" {
		t.Fatalf("%v", ev.Fields)
	}
}
