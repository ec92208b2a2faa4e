package model

import "testing"

func TestCounterpart(t *testing.T) {
	tests := []struct {
		name         string
		participants []Participant
		selfID       string
		want         string
	}{
		{
			name:         "picks the other participant",
			participants: []Participant{{ID: "me"}, {ID: "them"}},
			selfID:       "me",
			want:         "them",
		},
		{
			name:         "self-conversation falls back to first",
			participants: []Participant{{ID: "me"}},
			selfID:       "me",
			want:         "me",
		},
		{
			name:         "no participants",
			participants: nil,
			selfID:       "me",
			want:         "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Conversation{Participants: tt.participants}
			if got := c.Counterpart(tt.selfID); got.ID != tt.want {
				t.Errorf("Counterpart() = %q, want %q", got.ID, tt.want)
			}
		})
	}
}
