package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fleetguard/warden/pkg/fleet"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "secret"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) expected error")
	}
}

func TestClient_GetSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/entities/vehicle/v-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"attributes": map[string]interface{}{"odometer": 5200},
		})
	}))

	snap, err := c.GetSnapshot(context.Background(), fleet.EntityVehicle, "v-1")
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if snap.Attributes["odometer"] != float64(5200) {
		t.Errorf("odometer = %v, want 5200", snap.Attributes["odometer"])
	}

	_, err = c.GetSnapshot(context.Background(), fleet.EntityVehicle, "v-404")
	if !errors.Is(err, fleet.ErrEntityNotFound) {
		t.Errorf("GetSnapshot() missing error = %v, want ErrEntityNotFound", err)
	}
}

func TestClient_ListTargets(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("depot") != "north" {
			t.Errorf("depot filter missing: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ids": []string{"v-1", "v-3"}})
	}))

	ids, err := c.ListTargets(context.Background(), fleet.Scope{
		EntityType: fleet.EntityVehicle,
		Filter:     map[string]string{"depot": "north"},
	})
	if err != nil {
		t.Fatalf("ListTargets() failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ListTargets() = %v, want 2 ids", ids)
	}
}

func TestClient_CreateSendsIdempotencyKey(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/work-orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "exec-1:0" {
			t.Errorf("Idempotency-Key = %q, want exec-1:0", got)
		}
		var body fleet.WorkOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.VehicleID != "v-1" {
			t.Errorf("vehicle_id = %q", body.VehicleID)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "wo-77"})
	}))

	id, err := c.Create(context.Background(), fleet.WorkOrderRequest{
		VehicleID:      "v-1",
		Title:          "Preventive maintenance",
		IdempotencyKey: "exec-1:0",
	})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if id != "wo-77" {
		t.Errorf("Create() = %q, want wo-77", id)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"conflict", http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))

			_, err := c.Send(context.Background(), fleet.Notification{Template: "t", Target: "ops"})
			if err == nil {
				t.Fatal("Send() expected error")
			}
			if got := fleet.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v (err=%v)", got, tt.transient, err)
			}
		})
	}
}

func TestClient_UpdateStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/entities/vehicle/v-1/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	err := c.UpdateStatus(context.Background(), fleet.StatusUpdate{
		EntityType: fleet.EntityVehicle,
		EntityID:   "v-1",
		Status:     "out_of_service",
	})
	if err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}
}
