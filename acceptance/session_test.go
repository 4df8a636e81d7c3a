package acceptance

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

type unlockResponse struct {
	Order struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
	UserID  int64  `json:"userId"`
	Balance string `json:"balance"`
}

type lockResponse struct {
	DurationMinutes int    `json:"durationMinutes"`
	Cost            string `json:"cost"`
	NewBalance      string `json:"newBalance"`
}

func TestUnlockLock_RoundTrip(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	ts.CreateTestUser(t, "alice", "CARD-001", "50.00")
	bikeID := ts.CreateTestBike(t, "BIKE-001", "idle")

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "CARD-001", "bike_id": bikeID, "lat": 39.90, "lng": 116.40,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var unlock unlockResponse
	if err := json.Unmarshal(w.Body.Bytes(), &unlock); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if unlock.Order.Status != "active" {
		t.Errorf("expected active order, got %s", unlock.Order.Status)
	}
	if got := ts.GetBikeStatus(t, bikeID); got != "riding" {
		t.Errorf("expected bike riding after unlock, got %s", got)
	}

	w = ts.POST("/api/orders/lock", map[string]any{
		"order_id": unlock.Order.ID, "rfid_card": "CARD-001", "lat": 31.23, "lng": 121.47,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	if got := ts.GetBikeStatus(t, bikeID); got != "idle" {
		t.Errorf("expected bike idle after lock, got %s", got)
	}

	// The bike ends at the lock coordinates, not where the ride started.
	var lat, lng float64
	if err := ts.DB.QueryRow(`SELECT current_lat, current_lng FROM bikes WHERE id = $1`, bikeID).Scan(&lat, &lng); err != nil {
		t.Fatalf("failed to read bike position: %v", err)
	}
	if lat != 31.23 || lng != 121.47 {
		t.Errorf("expected bike at lock coordinates (31.23, 121.47), got (%v, %v)", lat, lng)
	}
}

func TestUnlock_ComputedFare(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := ts.CreateTestUser(t, "alice", "CARD-001", "50.00")
	bikeID := ts.CreateTestBike(t, "BIKE-001", "idle")

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "CARD-001", "bike_id": bikeID, "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unlock failed: %d %s", w.Code, w.Body.String())
	}
	var unlock unlockResponse
	if err := json.Unmarshal(w.Body.Bytes(), &unlock); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	ts.BackdateOrder(t, unlock.Order.ID, 125)

	w = ts.POST("/api/orders/lock", map[string]any{
		"order_id": unlock.Order.ID, "rfid_card": "CARD-001", "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("lock failed: %d %s", w.Code, w.Body.String())
	}

	var lock lockResponse
	if err := json.Unmarshal(w.Body.Bytes(), &lock); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if lock.DurationMinutes != 2 {
		t.Errorf("expected 2 minutes for a 125s ride, got %v", spew.Sdump(lock))
	}
	if lock.Cost != "0.2" && lock.Cost != "0.20" {
		t.Errorf("expected cost 0.20, got %q", lock.Cost)
	}
	if got := ts.GetUserBalance(t, userID); got != "49.80" {
		t.Errorf("expected balance 49.80 after debit, got %s", got)
	}
}

func TestLock_InsufficientBalanceFailsClosed(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := ts.CreateTestUser(t, "alice", "CARD-001", "50.00")
	bikeID := ts.CreateTestBike(t, "BIKE-001", "idle")

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "CARD-001", "bike_id": bikeID, "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unlock failed: %d %s", w.Code, w.Body.String())
	}
	var unlock unlockResponse
	if err := json.Unmarshal(w.Body.Bytes(), &unlock); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	// 125s ride costs 0.20 but the balance only holds 0.15.
	ts.BackdateOrder(t, unlock.Order.ID, 125)
	ts.SetUserBalance(t, userID, "0.15")

	w = ts.POST("/api/orders/lock", map[string]any{
		"order_id": unlock.Order.ID, "rfid_card": "CARD-001", "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}

	// Nothing may change: the server cannot physically relock the bike.
	if got := ts.GetOrderStatus(t, unlock.Order.ID); got != "active" {
		t.Errorf("expected order still active, got %s", got)
	}
	if got := ts.GetBikeStatus(t, bikeID); got != "riding" {
		t.Errorf("expected bike still riding, got %s", got)
	}
	if got := ts.GetUserBalance(t, userID); got != "0.15" {
		t.Errorf("expected balance unchanged at 0.15, got %s", got)
	}
}

func TestLock_RetryAfterCompletionDoesNotDoubleCharge(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	userID := ts.CreateTestUser(t, "alice", "CARD-001", "50.00")
	bikeID := ts.CreateTestBike(t, "BIKE-001", "idle")

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "CARD-001", "bike_id": bikeID, "lat": 0.0, "lng": 0.0,
	})
	var unlock unlockResponse
	if err := json.Unmarshal(w.Body.Bytes(), &unlock); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	ts.BackdateOrder(t, unlock.Order.ID, 125)

	lockReq := map[string]any{
		"order_id": unlock.Order.ID, "rfid_card": "CARD-001", "lat": 0.0, "lng": 0.0,
	}
	if w = ts.POST("/api/orders/lock", lockReq); w.Code != http.StatusOK {
		t.Fatalf("first lock failed: %d %s", w.Code, w.Body.String())
	}

	// Identical retry must fail on order state, not charge again.
	w = ts.POST("/api/orders/lock", lockReq)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d on retry, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}
	if got := ts.GetUserBalance(t, userID); got != "49.80" {
		t.Errorf("expected balance 49.80 after single charge, got %s", got)
	}
}

func TestUnlock_UnknownBikeHasNoSideEffects(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "NEVER-SEEN", "bike_id": 99999, "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d: %s", http.StatusNotFound, w.Code, w.Body.String())
	}

	// The bike check runs first; even an unknown card must not auto-register.
	if n := ts.CountUsers(t); n != 0 {
		t.Errorf("expected no users created, got %d", n)
	}
}

func TestUnlock_ConcurrentAttemptsSingleWinner(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	const riders = 8
	cards := make([]string, riders)
	for i := range cards {
		cards[i] = string(rune('A'+i)) + "-CARD"
		ts.CreateTestUser(t, "rider-"+cards[i], cards[i], "50.00")
	}
	bikeID := ts.CreateTestBike(t, "BIKE-001", "idle")

	var wg sync.WaitGroup
	successes := make(chan int64, riders)
	for _, card := range cards {
		wg.Add(1)
		go func(card string) {
			defer wg.Done()
			res, err := ts.Engine.Unlock(context.Background(), card, bikeID, 0, 0)
			if err == nil {
				successes <- res.Order.ID
			}
		}(card)
	}
	wg.Wait()
	close(successes)

	var winners []int64
	for id := range successes {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly 1 successful unlock, got %d: %s", len(winners), spew.Sdump(winners))
	}

	var active int
	if err := ts.DB.Get(&active, `SELECT count(*) FROM orders WHERE bike_id = $1 AND status = 'active'`, bikeID); err != nil {
		t.Fatalf("failed to count active orders: %v", err)
	}
	if active != 1 {
		t.Errorf("expected exactly 1 active order, got %d", active)
	}
	if got := ts.GetBikeStatus(t, bikeID); got != "riding" {
		t.Errorf("expected bike riding, got %s", got)
	}
}

func TestUnlock_BikeNotIdle(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	ts.CreateTestUser(t, "alice", "CARD-001", "50.00")
	bikeID := ts.CreateTestBike(t, "BIKE-001", "fault")

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "CARD-001", "bike_id": bikeID, "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}
}

func TestLock_WrongUser(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	ts.CreateTestUser(t, "alice", "CARD-001", "50.00")
	ts.CreateTestUser(t, "bob", "CARD-002", "50.00")
	bikeID := ts.CreateTestBike(t, "BIKE-001", "idle")

	w := ts.POST("/api/orders/unlock", map[string]any{
		"rfid_card": "CARD-001", "bike_id": bikeID, "lat": 0.0, "lng": 0.0,
	})
	var unlock unlockResponse
	if err := json.Unmarshal(w.Body.Bytes(), &unlock); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	w = ts.POST("/api/orders/lock", map[string]any{
		"order_id": unlock.Order.ID, "rfid_card": "CARD-002", "lat": 0.0, "lng": 0.0,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}
	if got := ts.GetOrderStatus(t, unlock.Order.ID); got != "active" {
		t.Errorf("expected order still active, got %s", got)
	}
}
