package domain

import "testing"

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"feature/my-branch", "feature-my-branch"},
		{"Feature/MY_Branch", "feature-my_branch"},
		{"---test---", "test"},
		{"hello world!", "hello-world"},
		{"UPPER_Case", "upper_case"},
		{"!!!", ""},
		{"a//b", "a-b"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	inputs := []string{"feature/my-branch", "---test---", "UPPER_Case", "a b c", "x--y"}
	for _, in := range inputs {
		once := SanitizeName(in)
		if twice := SanitizeName(once); twice != once {
			t.Errorf("SanitizeName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestCalculateStatus(t *testing.T) {
	cases := []struct {
		name     string
		services map[string]string
		want     string
	}{
		{"empty", map[string]string{}, StatusStopped},
		{"all running", map[string]string{"api": "running", "worker": "running"}, StatusRunning},
		{"some running", map[string]string{"api": "running", "worker": "exited"}, StatusPartial},
		{"none running", map[string]string{"api": "exited", "worker": "created"}, StatusStopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := NewScratchStatus("demo", "demo")
			status.Services = tc.services
			status.CalculateStatus()
			if status.Status != tc.want {
				t.Fatalf("status = %q, want %q", status.Status, tc.want)
			}
		})
	}
}

func TestChannelNames(t *testing.T) {
	if got := LogChannel("demo"); got != "logs:demo" {
		t.Errorf("LogChannel = %q", got)
	}
	if got := LogChannelService("demo", "api"); got != "logs:demo:api" {
		t.Errorf("LogChannelService = %q", got)
	}
	if got := StatusChannel("demo"); got != "status:demo" {
		t.Errorf("StatusChannel = %q", got)
	}
	if got := StatusChannelAll(); got != "status:*" {
		t.Errorf("StatusChannelAll = %q", got)
	}
	if got := EventsChannel(); got != "events" {
		t.Errorf("EventsChannel = %q", got)
	}
}
