// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type recordingSink struct {
	mu     sync.Mutex
	events []ThreadEvent
}

func (s *recordingSink) OnThreadStart(ev ThreadEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRegistryDefaultsToDisabled(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	if r.Enabled() {
		t.Fatal("new registry should be disabled")
	}
	if r.State() != StateDisabled {
		t.Errorf("State = %v, want disabled", r.State())
	}
}

func TestReportWhileDisabledDeliversNothing(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sink := &recordingSink{}
	r.RegisterSink(sink)

	r.ReportThreadStart(Thread{Name: "worker-1", ID: 10})
	r.ReportThreadStart(Thread{Name: "worker-2", ID: 11})

	if sink.len() != 0 {
		t.Errorf("got %d events while disabled, want 0", sink.len())
	}
	st := r.Stats()
	if st.Reported != 2 || st.Suppressed != 2 || st.Delivered != 0 {
		t.Errorf("stats = %+v, want 2 reported, 2 suppressed, 0 delivered", st)
	}
}

func TestReportWhileEnabledDeliversToEverySink(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a, b := &recordingSink{}, &recordingSink{}
	r.RegisterSink(a)
	r.RegisterSink(b)
	r.Enable()

	r.ReportThreadStart(Thread{Name: "worker-1", ID: 10})

	if a.len() != 1 || b.len() != 1 {
		t.Fatalf("sink events = %d/%d, want 1/1", a.len(), b.len())
	}
	ev := a.events[0]
	if ev.ThreadName != "worker-1" || ev.ThreadID != 10 {
		t.Errorf("event = %+v, want worker-1/10", ev)
	}
	if _, ok := ev.Parent(); ok {
		t.Error("event without parent should report no parent")
	}
	if r.Stats().Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", r.Stats().Delivered)
	}
}

func TestReportCarriesParent(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sink := &recordingSink{}
	r.RegisterSink(sink)
	r.Enable()

	r.ReportThreadStart(Thread{Name: "worker-2", ID: 11, ParentID: 10, HasParent: true})

	parent, ok := sink.events[0].Parent()
	if !ok || parent != 10 {
		t.Errorf("Parent() = %d, %v; want 10, true", parent, ok)
	}
}

func TestTimestampsAreMonotonic(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sink := &recordingSink{}
	r.RegisterSink(sink)
	r.Enable()

	for i := 0; i < 10; i++ {
		r.ReportThreadStart(Thread{Name: "t", ID: int64(i)})
	}
	for i := 1; i < len(sink.events); i++ {
		if sink.events[i].TimestampNS < sink.events[i-1].TimestampNS {
			t.Fatalf("timestamp went backwards at %d: %d < %d",
				i, sink.events[i].TimestampNS, sink.events[i-1].TimestampNS)
		}
	}
}

func TestEnableIsIdempotent(t *testing.T) {
	once := NewRegistry(zap.NewNop())
	many := NewRegistry(zap.NewNop())
	a, b := &recordingSink{}, &recordingSink{}
	once.RegisterSink(a)
	many.RegisterSink(b)

	once.Enable()
	for i := 0; i < 5; i++ {
		many.Enable()
	}

	once.ReportThreadStart(Thread{Name: "w", ID: 1})
	many.ReportThreadStart(Thread{Name: "w", ID: 1})

	if a.len() != b.len() {
		t.Errorf("enable once delivered %d, enable x5 delivered %d", a.len(), b.len())
	}
	if !many.Enabled() {
		t.Error("registry should stay enabled")
	}
}

func TestDisableStopsReporting(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sink := &recordingSink{}
	r.RegisterSink(sink)

	r.Enable()
	r.ReportThreadStart(Thread{Name: "a", ID: 1})
	r.Disable()
	r.Disable()
	r.ReportThreadStart(Thread{Name: "b", ID: 2})

	if sink.len() != 1 {
		t.Errorf("got %d events, want 1", sink.len())
	}
	if r.State() != StateDisabled {
		t.Errorf("State = %v, want disabled", r.State())
	}
}

func TestFailingSinkDoesNotBlockLaterSinks(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.RegisterSink(SinkFunc(func(ThreadEvent) error {
		return errors.New("always fails")
	}))
	good := &recordingSink{}
	r.RegisterSink(good)
	r.Enable()

	r.ReportThreadStart(Thread{Name: "worker-1", ID: 1})

	if good.len() != 1 {
		t.Errorf("good sink got %d events, want 1", good.len())
	}
	st := r.Stats()
	if st.SinkFailures != 1 || st.Delivered != 1 {
		t.Errorf("stats = %+v, want 1 failure and 1 delivery", st)
	}
}

func TestPanickingSinkIsContained(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.RegisterSink(SinkFunc(func(ThreadEvent) error {
		panic("sink exploded")
	}))
	good := &recordingSink{}
	r.RegisterSink(good)
	r.Enable()

	// Must not panic.
	r.ReportThreadStart(Thread{Name: "worker-1", ID: 1})

	if good.len() != 1 {
		t.Errorf("good sink got %d events, want 1", good.len())
	}
	if r.Stats().SinkFailures != 1 {
		t.Errorf("SinkFailures = %d, want 1", r.Stats().SinkFailures)
	}
}

func TestSinksCalledInRegistrationOrder(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.RegisterSink(SinkFunc(func(ThreadEvent) error {
			order = append(order, i)
			return nil
		}))
	}
	r.Enable()
	r.ReportThreadStart(Thread{Name: "w", ID: 1})

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

func TestRegisterNilSinkIgnored(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterSink(nil)
	if r.SinkCount() != 0 {
		t.Errorf("SinkCount = %d, want 0", r.SinkCount())
	}
	r.Enable()
	r.ReportThreadStart(Thread{Name: "w", ID: 1})
}

func TestSinkErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&SinkError{Index: 2, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("SinkError should unwrap to its cause")
	}
	if err.Error() != "sink 2: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestConcurrentReportAndRegister(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	first := &recordingSink{}
	r.RegisterSink(first)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Enable()
			for j := 0; j < 100; j++ {
				r.ReportThreadStart(Thread{Name: "w", ID: int64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			r.RegisterSink(&recordingSink{})
		}()
	}
	wg.Wait()

	if first.len() != 800 {
		t.Errorf("first sink got %d events, want 800", first.len())
	}
	if r.SinkCount() != 9 {
		t.Errorf("SinkCount = %d, want 9", r.SinkCount())
	}
}

func TestStateString(t *testing.T) {
	if StateEnabled.String() != "enabled" || StateDisabled.String() != "disabled" {
		t.Errorf("unexpected state names %q %q", StateEnabled, StateDisabled)
	}
	if State(7).String() != "unknown(7)" {
		t.Errorf("State(7) = %q", State(7).String())
	}
}
