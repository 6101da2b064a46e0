package main

import (
	"testing"

	"github.com/park285/cheese-analyzer/pkg/analysisdto"
)

func stateEvent(s string) analysisdto.Event {
	return analysisdto.Event{Type: analysisdto.EventState, State: s}
}

func TestOneShot_EndedStreamSettlesOnIdle(t *testing.T) {
	var run oneShot
	if v := run.observe(stateEvent("idle")); v != verdictPending {
		t.Fatalf("idle before any work = %v", v)
	}
	steps := []struct {
		ev   analysisdto.Event
		want verdict
	}{
		{stateEvent("engine_starting"), verdictBusy},
		{stateEvent("streaming"), verdictBusy},
		{analysisdto.Event{Type: analysisdto.EventResult, Result: &analysisdto.Result{Step: 0}}, verdictBusy},
		// stream ended before the final budget
		{stateEvent("idle"), verdictIdle},
	}
	for i, s := range steps {
		if got := run.observe(s.ev); got != s.want {
			t.Fatalf("step %d: verdict %v, want %v", i, got, s.want)
		}
	}
}

func TestOneShot_FaultRetryStaysBusy(t *testing.T) {
	var run oneShot
	run.observe(stateEvent("streaming"))
	if v := run.observe(stateEvent("idle")); v != verdictIdle {
		t.Fatalf("idle after fault = %v", v)
	}
	// The retry clears the pending idle.
	if v := run.observe(stateEvent("engine_starting")); v != verdictBusy {
		t.Fatalf("retry = %v", v)
	}
}

func TestOneShot_TerminalEvents(t *testing.T) {
	cases := []struct {
		ev   analysisdto.Event
		want verdict
	}{
		{analysisdto.Event{Type: analysisdto.EventBook}, verdictDone},
		{analysisdto.Event{Type: analysisdto.EventCached}, verdictDone},
		{analysisdto.Event{Type: analysisdto.EventResult, Result: &analysisdto.Result{Final: true}}, verdictDone},
		{stateEvent("unavailable"), verdictFailed},
	}
	for _, tc := range cases {
		var run oneShot
		if got := run.observe(tc.ev); got != tc.want {
			t.Fatalf("%s/%s: verdict %v, want %v", tc.ev.Type, tc.ev.State, got, tc.want)
		}
	}
}
