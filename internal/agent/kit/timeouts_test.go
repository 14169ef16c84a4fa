package agentkit

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimeoutsConfigUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
		task    string
	}{
		{name: "empty object", raw: `{}`},
		{name: "null", raw: `null`},
		{name: "valid", raw: `{"task":"2m","operation":"10s"}`, task: "2m"},
		{name: "legacy command", raw: `{"command":"15s"}`, wantErr: true},
		{name: "legacy job", raw: `{"job":"2m"}`, wantErr: true},
		{name: "legacy request", raw: `{"request":"5s"}`, wantErr: true},
		{name: "unknown field", raw: `{"fetch":"5s"}`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var tc TimeoutsConfig
			err := json.Unmarshal([]byte(tt.raw), &tc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && tc.Task != tt.task {
				t.Fatalf("Task = %q, want %q", tc.Task, tt.task)
			}
		})
	}
}

func TestTimeoutsValidateAndDefaults(t *testing.T) {
	t.Parallel()

	tc := TimeoutsConfig{Task: "2m", Operation: "10s"}
	if err := tc.Validate("price.timeouts"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := tc.TaskOr(time.Minute); got != 2*time.Minute {
		t.Fatalf("TaskOr = %v, want 2m", got)
	}
	if got := tc.OperationOr(time.Second); got != 10*time.Second {
		t.Fatalf("OperationOr = %v, want 10s", got)
	}

	var empty TimeoutsConfig
	if got := empty.TaskOr(45 * time.Second); got != 45*time.Second {
		t.Fatalf("TaskOr(empty) = %v, want the default", got)
	}

	bad := TimeoutsConfig{Task: "soon"}
	if err := bad.Validate("price.timeouts"); err == nil {
		t.Fatalf("Validate should reject an unparseable task duration")
	}
}
