package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewTaskEvent(t *testing.T) {
	env, err := NewTaskEvent(TypeTaskCompleted, TaskEventData{
		Task: TaskSnapshot{ID: "task-1", UserID: "user-1", Title: "buy milk"},
	}, "corr-123")
	if err != nil {
		t.Fatalf("NewTaskEvent() error = %v", err)
	}

	if env.SpecVersion != SpecVersion {
		t.Errorf("specversion = %s, want %s", env.SpecVersion, SpecVersion)
	}
	if env.ID == "" {
		t.Error("envelope ID is empty")
	}
	if env.Source != SourceTasks {
		t.Errorf("source = %s, want %s", env.Source, SourceTasks)
	}
	if env.Subject != "tasks/task-1" {
		t.Errorf("subject = %s, want tasks/task-1", env.Subject)
	}
	if env.CorrelationID != "corr-123" {
		t.Errorf("correlation_id = %s, want corr-123", env.CorrelationID)
	}
	if env.Time.IsZero() {
		t.Error("time is zero")
	}

	if err := env.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	data, err := env.TaskData()
	if err != nil {
		t.Fatalf("TaskData() error = %v", err)
	}
	if data.Task.ID != "task-1" || data.Task.Title != "buy milk" {
		t.Errorf("task = %+v, want task-1/buy milk", data.Task)
	}
}

func TestTwoEventsGetDistinctIDs(t *testing.T) {
	a, _ := NewTaskEvent(TypeTaskCreated, TaskEventData{Task: TaskSnapshot{ID: "t"}}, "")
	b, _ := NewTaskEvent(TypeTaskCreated, TaskEventData{Task: TaskSnapshot{ID: "t"}}, "")
	if a.ID == b.ID {
		t.Errorf("two envelopes share ID %s", a.ID)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	base := func() *Envelope {
		env, err := NewReminderEvent(TypeReminderTrigger, SourceScheduler, ReminderData{
			TaskID: "task-1", UserID: "user-1",
			DueDate:       time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
			ScheduledTime: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		}, "")
		if err != nil {
			t.Fatalf("NewReminderEvent() error = %v", err)
		}
		return env
	}

	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Envelope) {}},
		{name: "missing id", mutate: func(e *Envelope) { e.ID = "" }, wantErr: true},
		{name: "missing type", mutate: func(e *Envelope) { e.Type = "" }, wantErr: true},
		{name: "missing source", mutate: func(e *Envelope) { e.Source = "" }, wantErr: true},
		{name: "wrong specversion", mutate: func(e *Envelope) { e.SpecVersion = "0.3" }, wantErr: true},
		{name: "no data", mutate: func(e *Envelope) { e.Data = nil }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := base()
			tt.mutate(env)
			err := env.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReminderPayloadRejectsMissingTaskID(t *testing.T) {
	env, err := NewReminderEvent(TypeReminderTrigger, "", ReminderData{UserID: "user-1"}, "")
	if err != nil {
		t.Fatalf("NewReminderEvent() error = %v", err)
	}
	if _, err := env.ReminderPayload(); err == nil {
		t.Error("ReminderPayload() error = nil, want missing task id error")
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env, err := NewTaskEvent(TypeTaskCompleted, TaskEventData{
		Task: TaskSnapshot{ID: "task-1", UserID: "user-1", Title: "buy milk"},
	}, "corr-1")
	if err != nil {
		t.Fatalf("NewTaskEvent() error = %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	// Field names on the wire follow the CloudEvents attribute names.
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, attr := range []string{"specversion", "id", "source", "type", "subject", "time", "datacontenttype", "data"} {
		if _, ok := wire[attr]; !ok {
			t.Errorf("wire format missing attribute %q", attr)
		}
	}
}
