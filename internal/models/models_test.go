package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEmptySnapshotCarriesJobsArray(t *testing.T) {
	for _, msg := range []PushMessage{
		{Type: MessageSnapshot},
		{Type: MessageSnapshot, Jobs: []TranscodeJob{}},
	} {
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if got, want := string(data), `{"type":"snapshot","jobs":[]}`; got != want {
			t.Fatalf("Marshal() = %s, want %s", got, want)
		}
	}
}

func TestSnapshotListsJobs(t *testing.T) {
	data, err := json.Marshal(PushMessage{Type: MessageSnapshot, Jobs: []TranscodeJob{{ID: "a"}, {ID: "b"}}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded PushMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded.Jobs) != 2 || decoded.Jobs[0].ID != "a" || decoded.Jobs[1].ID != "b" {
		t.Fatalf("jobs = %+v", decoded.Jobs)
	}
}

func TestJobMessageOmitsJobs(t *testing.T) {
	data, err := json.Marshal(PushMessage{Type: MessageJob, Job: &TranscodeJob{ID: "a"}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), `"jobs"`) {
		t.Fatalf("job message should not carry jobs: %s", data)
	}
	if !strings.Contains(string(data), `"job":{`) {
		t.Fatalf("job message missing job: %s", data)
	}
}
