package mirror

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	id := "job-550e8400"

	cursor := encodeCursor(ts, id)
	if cursor == "" {
		t.Fatal("expected non-empty cursor")
	}

	gotTime, gotID, err := decodeCursor(cursor)
	if err != nil {
		t.Fatalf("unexpected error decoding cursor: %v", err)
	}
	if !gotTime.Equal(ts) {
		t.Errorf("time mismatch: got %v, want %v", gotTime, ts)
	}
	if gotID != id {
		t.Errorf("id mismatch: got %q, want %q", gotID, id)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"bad base64", "not-valid-base64!!!"},
		{"missing separator", "bm9waXBl"},         // "nopipe"
		{"bad time", "YmFkLXRpbWV8c29tZS1pZA=="}, // "bad-time|some-id"
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decodeCursor(tt.cursor); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestQualifiesForAutoHire(t *testing.T) {
	job := &Job{
		Hire: HireSettings{
			AutoHire:        true,
			MinReputation:   1500,
			RequireVerified: true,
			MinJobs:         3,
		},
	}

	strong := &Profile{Verified: true, ReputationScore: 2000, SuccessfulJobs: 5}

	tests := []struct {
		name      string
		job       *Job
		applicant *Profile
		want      bool
	}{
		{"meets all criteria", job, strong, true},
		{"auto hire disabled", &Job{Hire: HireSettings{AutoHire: false}}, strong, false},
		{"unverified", job, &Profile{Verified: false, ReputationScore: 2000, SuccessfulJobs: 5}, false},
		{"low reputation", job, &Profile{Verified: true, ReputationScore: 1499, SuccessfulJobs: 5}, false},
		{"too few jobs", job, &Profile{Verified: true, ReputationScore: 2000, SuccessfulJobs: 2}, false},
		{"exact thresholds", job, &Profile{Verified: true, ReputationScore: 1500, SuccessfulJobs: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QualifiesForAutoHire(tt.job, tt.applicant); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
