package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubscribeReceivesEmittedEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	if err := bus.Emit(PartyJoined{PartyID: "p1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case evt := <-sub.C:
		joined, ok := evt.(PartyJoined)
		if !ok || joined.PartyID != "p1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("event never delivered")
	}
}

func TestEmitDropsForFullSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	_ = bus.Emit(PartyJoined{PartyID: "p1"})
	_ = bus.Emit(PartyJoined{PartyID: "p2"})
	_ = bus.Emit(PartyJoined{PartyID: "p3"})

	evt := <-sub.C
	if evt.(PartyJoined).PartyID != "p1" {
		t.Fatalf("expected first event kept, got %+v", evt)
	}

	select {
	case evt, ok := <-sub.C:
		if ok {
			t.Fatalf("expected overflow drop, got %+v", evt)
		}
	default:
	}
}

func TestWaitForMatchesPredicate(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 1)
	ready := make(chan struct{})

	go func() {
		close(ready)
		evt, err := bus.WaitFor(context.Background(), PartyLeaderIs("p1", "u2"))
		if err != nil {
			got <- nil
			return
		}

		got <- evt
	}()

	<-ready
	time.Sleep(10 * time.Millisecond)

	_ = bus.Emit(PartyLeaderChanged{PartyID: "p1", LeaderID: "u1"})
	_ = bus.Emit(PartyLeaderChanged{PartyID: "p2", LeaderID: "u2"})
	_ = bus.Emit(PartyLeaderChanged{PartyID: "p1", LeaderID: "u2", Version: 7})

	select {
	case evt := <-got:
		change, ok := evt.(PartyLeaderChanged)
		if !ok || change.Version != 7 {
			t.Fatalf("waiter matched the wrong event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never woke")
	}
}

func TestWaitForTimesOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := bus.WaitFor(ctx, IsName(EventGameFound)); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestClosedBusRejectsEverything(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Fatalf("subscriber channel must close with the bus")
	}

	if err := bus.Emit(ClientReady{}); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed on emit, got %v", err)
	}

	if _, err := bus.Subscribe(1); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed on subscribe, got %v", err)
	}

	if _, err := bus.WaitFor(context.Background(), nil); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed on wait, got %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sub.Cancel()
	sub.Cancel()

	if n := bus.SubscriberCount(); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestPartyMemberChangedPredicate(t *testing.T) {
	pred := PartyMemberChanged("u2", MemberKicked)

	evt := PartyMembersUpdated{Updates: []MemberUpdate{
		{UserID: "u1", Changes: MemberLeft},
		{UserID: "u2", Changes: MemberLeft | MemberKicked},
	}}

	if !pred(evt) {
		t.Fatalf("expected match for kicked u2")
	}

	if pred(PartyMembersUpdated{Updates: []MemberUpdate{{UserID: "u2", Changes: MemberLeft}}}) {
		t.Fatalf("must not match without the kicked flag")
	}

	if pred(PartyJoined{}) {
		t.Fatalf("must not match other event types")
	}
}

func TestInvitationFromPredicate(t *testing.T) {
	if !InvitationFrom("u5")(PartyInvitationReceived{SenderID: "u5"}) {
		t.Fatalf("expected sender match")
	}

	if InvitationFrom("u5")(PartyInvitationReceived{SenderID: "u6"}) {
		t.Fatalf("sender mismatch must not match")
	}

	if !InvitationFrom("")(PartyInvitationReceived{SenderID: "u6"}) {
		t.Fatalf("empty sender matches any invitation")
	}
}

func TestGameFoundForPredicate(t *testing.T) {
	if !GameFoundFor("ranked")(GameFound{MatchmakerName: "ranked", ConnectionToken: "tok"}) {
		t.Fatalf("expected matchmaker match")
	}

	if GameFoundFor("ranked")(GameFound{MatchmakerName: "casual"}) {
		t.Fatalf("matchmaker mismatch must not match")
	}

	if !GameFoundFor("")(GameFound{MatchmakerName: "casual"}) {
		t.Fatalf("empty matchmaker matches any game")
	}

	if GameFoundFor("ranked")(GameFindFailed{MatchmakerName: "ranked"}) {
		t.Fatalf("must not match other event types")
	}
}

func TestPartySettingsForPredicate(t *testing.T) {
	if !PartySettingsFor("p1")(PartySettingsUpdated{PartyID: "p1", SettingsVersion: 2}) {
		t.Fatalf("expected party match")
	}

	if PartySettingsFor("p1")(PartySettingsUpdated{PartyID: "p2"}) {
		t.Fatalf("party mismatch must not match")
	}

	if !PartySettingsFor("")(PartySettingsUpdated{PartyID: "p2"}) {
		t.Fatalf("empty party id matches any settings update")
	}
}
