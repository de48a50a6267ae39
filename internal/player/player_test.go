package player

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  Status
		input Input
		want  Status
	}{
		{StatusStopped, InputPlayRemote, StatusLoading},
		{StatusStopped, InputPlayLocal, StatusStopped},
		{StatusStopped, InputStop, StatusStopped},
		{StatusStopped, InputNotReady, StatusStopped},
		{StatusStopped, InputBuffering, StatusStopped},
		{StatusStopped, InputReady, StatusPlaying},

		{StatusLoading, InputPlayRemote, StatusLoading},
		{StatusLoading, InputPlayLocal, StatusLoading},
		{StatusLoading, InputStop, StatusStopped},
		{StatusLoading, InputNotReady, StatusLoading},
		{StatusLoading, InputBuffering, StatusLoading},
		{StatusLoading, InputReady, StatusPlaying},

		{StatusPlaying, InputPlayRemote, StatusLoading},
		{StatusPlaying, InputPlayLocal, StatusPlaying},
		{StatusPlaying, InputStop, StatusStopped},
		{StatusPlaying, InputNotReady, StatusPlaying},
		{StatusPlaying, InputBuffering, StatusPlaying},
		{StatusPlaying, InputReady, StatusPlaying},
	}

	if len(cases) != len(transitions) {
		t.Fatalf("table has %d rows, test covers %d", len(transitions), len(cases))
	}
	for _, tc := range cases {
		if got := Transition(tc.from, tc.input); got != tc.want {
			t.Fatalf("Transition(%s, %d) = %s, want %s", tc.from, tc.input, got, tc.want)
		}
	}
}

func TestItemStatusInput(t *testing.T) {
	cases := []struct {
		status ItemStatus
		want   Input
	}{
		{ItemStatus{}, InputNotReady},
		{ItemStatus{LikelyToKeepUp: true}, InputNotReady},
		{ItemStatus{Ready: true}, InputBuffering},
		{ItemStatus{Ready: true, LikelyToKeepUp: true}, InputReady},
	}
	for _, tc := range cases {
		if got := tc.status.Input(); got != tc.want {
			t.Fatalf("%+v.Input() = %d, want %d", tc.status, got, tc.want)
		}
	}
}

func TestTransitionUnknownInputKeepsStatus(t *testing.T) {
	if got := Transition(StatusLoading, Input(99)); got != StatusLoading {
		t.Fatalf("unknown input should keep status, got %s", got)
	}
}
