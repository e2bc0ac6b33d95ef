package status

import (
	"testing"

	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, SignedOut},
		{Booting, Error},
		{SignedOut, SigningIn},
		{SigningIn, Syncing},
		{SigningIn, SignedOut},
		{Syncing, Ready},
		{Syncing, Degraded},
		{Ready, Syncing},
		{Ready, SignedOut},
		{Degraded, Ready},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Booting); err != nil {
		t.Fatal(err)
	}
	if len(ch) != 0 {
		t.Error("self transition published an event")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(SignedOut); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != SignedOut {
		t.Errorf("change = %v -> %v, want BOOTING -> SIGNED_OUT", change.From, change.To)
	}
}

// A signed-out client cannot show data: it must sign in and sync first.
func TestSignedOutCannotJumpToReady(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, SignedOut)

	if err := m.Transition(Ready); err == nil {
		t.Fatal("Transition(SIGNED_OUT -> READY) should fail")
	}
	if m.Current() != SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", m.Current())
	}
	if err := m.Walk(SigningIn, Syncing, Ready); err != nil {
		t.Fatal(err)
	}
}

func TestReloadFailureDegradesThenRecovers(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	if err := m.Walk(Syncing, Degraded, Syncing, Ready); err != nil {
		t.Fatalf("walk: %v (current: %s)", err, m.Current())
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:   {},
		SignedOut: {SignedOut},
		SigningIn: {SignedOut, SigningIn},
		Syncing:   {SignedOut, SigningIn, Syncing},
		Ready:     {SignedOut, SigningIn, Syncing, Ready},
		Degraded:  {SignedOut, SigningIn, Syncing, Degraded},
		Error:     {Error},
	}
	if err := m.Walk(paths[target]...); err != nil {
		t.Fatalf("walkTo(%s): %v", target, err)
	}
}
