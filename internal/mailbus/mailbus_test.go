package mailbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	received := make(chan Message, 1)
	b.Subscribe("task.created", func(m Message) { received <- m })

	b.Publish(Message{Type: "task.created", From: "test", Payload: map[string]interface{}{"taskId": "abc"}})

	select {
	case m := <-received:
		if m.Payload["taskId"] != "abc" {
			t.Errorf("expected taskId abc, got %v", m.Payload["taskId"])
		}
		if m.ID == "" {
			t.Error("expected Publish to stamp an id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	id := b.Subscribe("agent.status", func(Message) { count++ })

	b.Publish(Message{Type: "agent.status"})
	b.Unsubscribe(id)
	b.Publish(Message{Type: "agent.status"})

	if count != 1 {
		t.Errorf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestSubscriberOrderingPerTopic(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe("t", func(Message) { order = append(order, 1) })
	b.Subscribe("t", func(Message) { order = append(order, 2) })
	b.Subscribe("t", func(Message) { order = append(order, 3) })

	b.Publish(Message{Type: "t"})

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("expected %d deliveries, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("delivery order mismatch at %d: got %v, want %v", i, order, want)
		}
	}
}

func TestSubscriberPanicDoesNotStopOthers(t *testing.T) {
	b := New()
	secondCalled := false
	b.Subscribe("t", func(Message) { panic("boom") })
	b.Subscribe("t", func(Message) { secondCalled = true })

	b.Publish(Message{Type: "t"})

	if !secondCalled {
		t.Error("expected second subscriber to still run after first panics")
	}
}

func TestAcquireLeaseExclusive(t *testing.T) {
	b := New()
	if !b.AcquireLease("src/main.go", "agent-1", time.Minute) {
		t.Fatal("expected first acquire to succeed")
	}
	if b.AcquireLease("src/main.go", "agent-2", time.Minute) {
		t.Error("expected second holder to be rejected while lease is live")
	}
	if !b.AcquireLease("src/main.go", "agent-1", time.Minute) {
		t.Error("expected same holder to renew successfully")
	}
}

func TestAcquireLeaseNeverBlocksAndExpires(t *testing.T) {
	b := New()
	if !b.AcquireLease("k", "agent-1", time.Millisecond) {
		t.Fatal("expected acquire to succeed")
	}
	time.Sleep(5 * time.Millisecond)
	if !b.AcquireLease("k", "agent-2", time.Minute) {
		t.Error("expected acquire to succeed once the prior lease has expired")
	}
}

func TestReleaseLeaseOnlyByHolder(t *testing.T) {
	b := New()
	b.AcquireLease("k", "agent-1", time.Minute)
	b.ReleaseLease("k", "agent-2") // not the holder, no-op
	leased, holder := b.IsLeased("k")
	if !leased || holder != "agent-1" {
		t.Error("expected lease to remain held by agent-1")
	}
	b.ReleaseLease("k", "agent-1")
	leased, _ = b.IsLeased("k")
	if leased {
		t.Error("expected lease to be released by its holder")
	}
}

func TestCleanupExpiredLeases(t *testing.T) {
	b := New()
	b.AcquireLease("k1", "agent-1", time.Millisecond)
	b.AcquireLease("k2", "agent-1", time.Minute)
	time.Sleep(5 * time.Millisecond)

	n := b.CleanupExpiredLeases()
	if n != 1 {
		t.Errorf("expected 1 expired lease cleaned up, got %d", n)
	}
	if leased, _ := b.IsLeased("k2"); !leased {
		t.Error("expected live lease to survive cleanup")
	}
}

func TestHeartbeatAndAck(t *testing.T) {
	b := New()
	if _, ok := b.LastHeartbeat("agent-1"); ok {
		t.Error("expected no heartbeat recorded yet")
	}
	b.SendHeartbeat("agent-1")
	if _, ok := b.LastHeartbeat("agent-1"); !ok {
		t.Error("expected heartbeat to be recorded")
	}

	if b.IsAcknowledged("msg-1", "agent-1") {
		t.Error("expected no ack recorded yet")
	}
	b.Acknowledge("msg-1", "agent-1")
	if !b.IsAcknowledged("msg-1", "agent-1") {
		t.Error("expected ack to be recorded")
	}
}

func TestClosePreventsFurtherDelivery(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe("t", func(Message) { count++ })
	b.Close()
	b.Publish(Message{Type: "t"})
	if count != 0 {
		t.Error("expected no delivery after Close")
	}
}

func TestReplaySince(t *testing.T) {
	b := New()
	before := time.Now()
	b.Publish(Message{Type: "t", Payload: map[string]interface{}{"n": 1}})
	replayed := b.ReplaySince("t", before.Add(-time.Minute))
	if len(replayed) != 1 {
		t.Fatalf("expected 1 retained message, got %d", len(replayed))
	}
	if none := b.ReplaySince("t", time.Now().Add(time.Minute)); len(none) != 0 {
		t.Error("expected no messages retained after a future cutoff")
	}
}
