package eventbus

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishApplicationDeliversToSubscriber(t *testing.T) {
	b := testBus()
	sub := b.Subscribe()

	b.PublishApplication(ApplicationEvent{Kind: "ControlConfigApplied"})

	select {
	case ev := <-sub:
		app, ok := ev.(ApplicationEvent)
		if !ok || app.Kind != "ControlConfigApplied" {
			t.Fatalf("unexpected event on broadcast log: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestSubAgentEventsScopedPerAgent(t *testing.T) {
	b := testBus()
	b.RegisterAgent("otel-1")
	b.RegisterAgent("nrdot-2")

	b.PublishSubAgent("otel-1", SubAgentEvent{Kind: "Started"})

	ch1, ok := b.SubAgentEvents("otel-1")
	if !ok {
		t.Fatal("expected topic for otel-1")
	}
	select {
	case ev := <-ch1:
		if ev.Kind != "Started" {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected an event queued for otel-1")
	}

	ch2, ok := b.SubAgentEvents("nrdot-2")
	if !ok {
		t.Fatal("expected topic for nrdot-2")
	}
	select {
	case ev := <-ch2:
		t.Fatalf("did not expect an event on nrdot-2's topic, got %+v", ev)
	default:
	}
}

func TestPublishSubAgentUnregisteredAgentIsNoop(t *testing.T) {
	b := testBus()
	b.PublishSubAgent("ghost", SubAgentEvent{Kind: "Started"})
	if _, ok := b.SubAgentEvents("ghost"); ok {
		t.Fatal("did not expect a topic for an unregistered agent")
	}
}

func TestRemoteConfigReceivedNeverDropped(t *testing.T) {
	b := testBus()
	b.RegisterAgent("otel-1")

	for i := 0; i < defaultBufferSize+5; i++ {
		b.PublishSubAgent("otel-1", SubAgentEvent{Kind: "HealthChanged"})
	}
	b.PublishSubAgent("otel-1", SubAgentEvent{Kind: "RemoteConfigReceived"})

	ch, _ := b.SubAgentEvents("otel-1")
	var sawRemoteConfig bool
	drain := len(ch)
	for i := 0; i < drain; i++ {
		if (<-ch).Kind == "RemoteConfigReceived" {
			sawRemoteConfig = true
		}
	}
	if !sawRemoteConfig {
		t.Fatal("expected RemoteConfigReceived to survive overflow eviction")
	}
}

func TestDeregisterAgentClosesTopics(t *testing.T) {
	b := testBus()
	b.RegisterAgent("otel-1")
	b.DeregisterAgent("otel-1")

	if _, ok := b.SubAgentEvents("otel-1"); ok {
		t.Fatal("expected topics removed after deregistration")
	}
	// Deregistering again must not panic on a double-close.
	b.DeregisterAgent("otel-1")
}

func TestOpAMPAndInternalTopicsDeliver(t *testing.T) {
	b := testBus()
	b.RegisterAgent("otel-1")

	b.PublishOpAMP("otel-1", OpAMPEvent{Kind: "EffectiveConfig", Payload: []byte("x")})
	b.PublishInternal("otel-1", SubAgentInternalEvent{Kind: "RestartRequested"})

	opamp, _ := b.OpAMPEvents("otel-1")
	internal, _ := b.InternalEvents("otel-1")

	select {
	case ev := <-opamp:
		if ev.Kind != "EffectiveConfig" {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected an opamp event queued")
	}
	select {
	case ev := <-internal:
		if ev.Kind != "RestartRequested" {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected an internal event queued")
	}
}
