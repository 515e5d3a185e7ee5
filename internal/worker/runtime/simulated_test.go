package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSimulated_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		wantErr string
	}{
		{"no parameters", ``, ""},
		{"unrelated parameters", `{"day":"2024-01-01"}`, ""},
		{"flag false", `{"simulate_error":false}`, ""},
		{"flag true", `{"simulate_error":true}`, "simulated failure"},
		{"message", `{"simulate_error":"source unreachable"}`, "source unreachable"},
		{"number", `{"simulate_error":3}`, "simulated failure: 3"},
	}

	rt := NewSimulated(5 * time.Millisecond)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := rt.Start(context.Background(), StartOptions{RunID: uuid.New(), Parameters: json.RawMessage(tt.params)})
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}

			res, err := h.Wait(context.Background())
			if err != nil {
				t.Fatalf("Wait failed: %v", err)
			}
			if tt.wantErr == "" && res.Err != nil {
				t.Errorf("expected success, got %v", res.Err)
			}
			if tt.wantErr != "" && (res.Err == nil || res.Err.Error() != tt.wantErr) {
				t.Errorf("got %v, want %q", res.Err, tt.wantErr)
			}
		})
	}
}

func TestSimulated_InvalidParameters(t *testing.T) {
	_, err := NewSimulated(0).Start(context.Background(), StartOptions{Parameters: json.RawMessage(`[1,2]`)})
	if err == nil {
		t.Error("expected error for non-object parameters")
	}
}

func TestSimulated_WaitHonorsContext(t *testing.T) {
	h, err := NewSimulated(time.Hour).Start(context.Background(), StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := h.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestSimulated_Stop(t *testing.T) {
	h, err := NewSimulated(time.Hour).Start(context.Background(), StartOptions{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	h.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err == nil {
		t.Error("expected an error from a stopped execution")
	}
}
