package syncrouter

import (
	"testing"
	"time"

	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
)

func TestDeliverSignalsRegisteredWaiter(t *testing.T) {
	r := New()
	guid := "conv-1"
	w := r.Register(guid, "owner-1", time.Now().Add(time.Second))

	header := &frame.Header{ConvGuid: guid, Status: frame.StatusSuccess, SyncResp: true}
	if !r.Deliver(guid, header, []byte("ok")) {
		t.Fatal("expected Deliver to find the waiter")
	}

	res := w.Wait()
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if string(res.Payload) != "ok" {
		t.Fatalf("expected payload %q, got %q", "ok", res.Payload)
	}
}

func TestDeliverReturnsFalseForUnknownGuid(t *testing.T) {
	r := New()
	if r.Deliver("no-such-guid", &frame.Header{}, nil) {
		t.Fatal("expected Deliver to report no waiter found")
	}
}

func TestWaitTimesOutAtDeadline(t *testing.T) {
	r := New()
	w := r.Register("conv-2", "owner-1", time.Now().Add(20*time.Millisecond))

	res := w.Wait()
	if res.Err == nil {
		t.Fatal("expected a timeout error")
	}
	if !errors.IsTimeoutError(res.Err) {
		t.Fatalf("expected a timeout-classified error, got %v", res.Err)
	}
}

func TestExpireSweepsPastDeadlineWaiters(t *testing.T) {
	r := New()
	w := r.Register("conv-3", "owner-1", time.Now().Add(-time.Millisecond))
	r.Expire()

	res := w.Wait()
	if res.Err == nil {
		t.Fatal("expected the swept waiter to resolve with an error")
	}
	if r.Deliver("conv-3", &frame.Header{}, nil) {
		t.Fatal("expected the waiter to have been removed from the registry")
	}
}

func TestDrainForConnectionOnlySignalsOwnedWaiters(t *testing.T) {
	r := New()
	mine := r.Register("conv-4", "session-a", time.Now().Add(time.Minute))
	other := r.Register("conv-5", "session-b", time.Now().Add(time.Minute))

	r.DrainForConnection("session-a")

	res := mine.Wait()
	if res.Err == nil {
		t.Fatal("expected session-a's waiter to be drained")
	}
	if !r.Deliver("conv-5", &frame.Header{ConvGuid: "conv-5", SyncResp: true}, []byte("still alive")) {
		t.Fatal("expected session-b's waiter to still be registered")
	}
	_ = other
}

func TestDrainAllSignalsEveryWaiter(t *testing.T) {
	r := New()
	w1 := r.Register("conv-6", "owner-1", time.Now().Add(time.Minute))
	w2 := r.Register("conv-7", "owner-2", time.Now().Add(time.Minute))

	r.DrainAll()

	if res := w1.Wait(); res.Err == nil {
		t.Fatal("expected w1 to be drained")
	}
	if res := w2.Wait(); res.Err == nil {
		t.Fatal("expected w2 to be drained")
	}
}

func TestStartSweeperExpiresOnSchedule(t *testing.T) {
	r := New()
	w := r.Register("conv-8", "owner-1", time.Now().Add(10*time.Millisecond))
	r.StartSweeper(5 * time.Millisecond)
	defer r.Stop()

	select {
	case res := <-w.done:
		if res.Err == nil {
			t.Fatal("expected a timeout result from the sweeper")
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not expire the waiter in time")
	}
}
