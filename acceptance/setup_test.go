package acceptance

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/cyclehub/rental-backend/api"
	"github.com/cyclehub/rental-backend/audit"
	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/live"
	"github.com/cyclehub/rental-backend/order"
	"github.com/cyclehub/rental-backend/session"
	"github.com/cyclehub/rental-backend/trajectory"
	"github.com/cyclehub/rental-backend/user"
)

type TestServer struct {
	DB         *sqlx.DB
	Router     *gin.Engine
	Engine     *session.Engine
	Dispatcher *recordingDispatcher
	UserRepo   *user.Repository
	BikeRepo   *bike.Repository
	OrderRepo  *order.Repository
}

// recordingDispatcher stands in for the MQTT dispatcher; safe for the
// concurrent unlock tests.
type recordingDispatcher struct {
	mu        sync.Mutex
	commands  []recordedCommand
	responses []recordedResponse
}

type recordedCommand struct {
	BikeAddr string
	Action   string
	OrderID  *int64
}

type recordedResponse struct {
	BikeID  int64
	Success bool
	Message string
}

func (d *recordingDispatcher) Command(bikeAddr, action string, orderID *int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, recordedCommand{BikeAddr: bikeAddr, Action: action, OrderID: orderID})
}

func (d *recordingDispatcher) Respond(bikeID int64, success bool, message string, balance *decimal.Decimal, orderID *int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, recordedResponse{BikeID: bikeID, Success: success, Message: message})
}

func (d *recordingDispatcher) Commands() []recordedCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedCommand(nil), d.commands...)
}

func (d *recordingDispatcher) Responses() []recordedResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedResponse(nil), d.responses...)
}

func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping acceptance test")
	}

	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	cleanupTestData(t, db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ur := user.NewRepository(db)
	br := bike.NewRepository(db)
	or := order.NewRepository(db)
	tr := trajectory.NewRepository(db)
	ar := audit.NewRepository(db)

	disp := &recordingDispatcher{}
	cfg := session.Config{
		InitialBalance: decimal.RequireFromString("50.0"),
		MinBalance:     decimal.RequireFromString("1.0"),
		PricePerMinute: decimal.RequireFromString("0.1"),
	}
	engine := session.NewEngine(db, ur, br, or, ar, disp, cfg, logger)

	a := api.New(api.Options{
		Engine:       engine,
		Users:        ur,
		Bikes:        br,
		Orders:       or,
		Trajectories: tr,
		Audits:       ar,
		Hub:          live.NewHub(logger),
		Config:       cfg,
		TransportUp:  func() bool { return true },
		Logger:       logger,
		Registry:     prometheus.NewRegistry(),
	})

	return &TestServer{
		DB:         db,
		Router:     a.Router(),
		Engine:     engine,
		Dispatcher: disp,
		UserRepo:   ur,
		BikeRepo:   br,
		OrderRepo:  or,
	}
}

func (ts *TestServer) Close() {
	ts.DB.Close()
}

func cleanupTestData(t *testing.T, db *sqlx.DB) {
	t.Helper()

	for _, table := range []string{"bike_trajectories", "system_logs", "orders", "users", "bikes"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Logf("warning: failed to clean %s: %v", table, err)
		}
	}
}

func (ts *TestServer) GET(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

func (ts *TestServer) POST(path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.Router.ServeHTTP(w, req)
	return w
}

// Fixture helpers insert directly, bypassing the API.

func (ts *TestServer) CreateTestUser(t *testing.T, username, rfidCard, balance string) int64 {
	t.Helper()
	var id int64
	err := ts.DB.Get(&id, `
		INSERT INTO users (username, rfid_card, balance)
		VALUES ($1, $2, $3)
		RETURNING id
	`, username, rfidCard, balance)
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return id
}

func (ts *TestServer) CreateTestBike(t *testing.T, code string, status string) int64 {
	t.Helper()
	var id int64
	err := ts.DB.Get(&id, `
		INSERT INTO bikes (bike_code, status)
		VALUES ($1, $2)
		RETURNING id
	`, code, status)
	if err != nil {
		t.Fatalf("failed to create test bike: %v", err)
	}
	return id
}

// BackdateOrder shifts an order's start time so fare-dependent tests do not
// have to sleep.
func (ts *TestServer) BackdateOrder(t *testing.T, orderID int64, seconds int) {
	t.Helper()
	_, err := ts.DB.Exec(`
		UPDATE orders SET start_time = now() - ($2 * interval '1 second')
		WHERE id = $1
	`, orderID, seconds)
	if err != nil {
		t.Fatalf("failed to backdate order: %v", err)
	}
}

func (ts *TestServer) SetUserBalance(t *testing.T, userID int64, balance string) {
	t.Helper()
	if _, err := ts.DB.Exec(`UPDATE users SET balance = $2 WHERE id = $1`, userID, balance); err != nil {
		t.Fatalf("failed to set balance: %v", err)
	}
}

func (ts *TestServer) GetBikeStatus(t *testing.T, bikeID int64) string {
	t.Helper()
	var status string
	if err := ts.DB.Get(&status, `SELECT status FROM bikes WHERE id = $1`, bikeID); err != nil {
		t.Fatalf("failed to get bike status: %v", err)
	}
	return status
}

func (ts *TestServer) GetOrderStatus(t *testing.T, orderID int64) string {
	t.Helper()
	var status string
	if err := ts.DB.Get(&status, `SELECT status FROM orders WHERE id = $1`, orderID); err != nil {
		t.Fatalf("failed to get order status: %v", err)
	}
	return status
}

func (ts *TestServer) GetUserBalance(t *testing.T, userID int64) string {
	t.Helper()
	var balance string
	if err := ts.DB.Get(&balance, `SELECT balance::text FROM users WHERE id = $1`, userID); err != nil {
		t.Fatalf("failed to get balance: %v", err)
	}
	return balance
}

func (ts *TestServer) CountUsers(t *testing.T) int {
	t.Helper()
	var n int
	if err := ts.DB.Get(&n, `SELECT count(*) FROM users`); err != nil {
		t.Fatalf("failed to count users: %v", err)
	}
	return n
}
