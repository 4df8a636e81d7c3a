package acceptance

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
)

func TestRegisterWithCard_DuplicateCard(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	w := ts.POST("/api/auth/register-with-card", map[string]any{
		"username": "alice", "rfid_card": "CARD-001",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	w = ts.POST("/api/auth/register-with-card", map[string]any{
		"username": "bob", "rfid_card": "CARD-001",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for duplicate card, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != "CARD_IN_USE" {
		t.Errorf("expected code CARD_IN_USE, got %q", resp.Code)
	}
}

func TestTopup(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := ts.CreateTestUser(t, "alice", "CARD-001", "10.00")

	w := ts.POST("/api/auth/topup", map[string]any{"user_id": userID, "amount": "25.50"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := ts.GetUserBalance(t, userID); got != "35.50" {
		t.Errorf("expected balance 35.50, got %s", got)
	}

	w = ts.POST("/api/auth/topup", map[string]any{"user_id": 99999, "amount": "5.00"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d for unknown user, got %d", http.StatusNotFound, w.Code)
	}
}

func TestAutoRegister_Idempotent(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	w := ts.POST("/api/auth/auto-register", map[string]any{"rfid_card": "04A1B2C3D4"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp struct {
		Created bool `json:"created"`
		User    struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !resp.Created {
		t.Error("expected created=true on first call")
	}
	firstID := resp.User.ID

	w = ts.POST("/api/auth/auto-register", map[string]any{"rfid_card": "04A1B2C3D4"})
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Created {
		t.Error("expected created=false on repeat call")
	}
	if resp.User.ID != firstID {
		t.Errorf("expected same user id %d, got %d", firstID, resp.User.ID)
	}
	if n := ts.CountUsers(t); n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}

func TestBindCard(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	var userID int64
	err := ts.DB.Get(&userID, `INSERT INTO users (username, balance) VALUES ('alice', 50.00) RETURNING id`)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	ts.CreateTestUser(t, "bob", "CARD-TAKEN", "50.00")

	path := "/api/users/" + strconv.FormatInt(userID, 10) + "/bind-card"

	// Binding a card already held by another user is rejected.
	w := ts.POST(path, map[string]any{"rfid_card": "CARD-TAKEN"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}

	w = ts.POST(path, map[string]any{"rfid_card": "CARD-NEW"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	// Rebinding once bound is rejected.
	w = ts.POST(path, map[string]any{"rfid_card": "CARD-OTHER"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d on rebind, got %d", http.StatusBadRequest, w.Code)
	}
}
