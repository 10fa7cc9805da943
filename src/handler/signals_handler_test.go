package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"signalbridge/src/model"
	"signalbridge/src/repository"
)

type mockSignalCreator struct {
	created *model.Signal
	err     error
	calls   int
}

func (m *mockSignalCreator) Create(_ context.Context, signal *model.Signal) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.created = signal
	return nil
}

type mockPendingLister struct {
	signals []model.Signal
	err     error
	limit   int
}

func (m *mockPendingLister) ListPending(_ context.Context, limit int) ([]model.Signal, error) {
	m.limit = limit
	return m.signals, m.err
}

const validSubmission = `{
	"message_id": 12345,
	"channel_id": -100987,
	"symbol": "EURUSD",
	"action": "BUY",
	"entry_price": 1.0850,
	"stop_loss": 1.0800,
	"tp1": 1.0900,
	"tp2": 1.0950,
	"raw_message": "BUY EURUSD @ 1.0850"
}`

func TestAddSignalHandler(t *testing.T) {
	repo := &mockSignalCreator{}
	handler := AddSignalHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/add_signal", strings.NewReader(validSubmission))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, resp["id"], repo.created.ID)
	assert.Equal(t, int64(12345), repo.created.MessageID)
	assert.Equal(t, model.SignalStatusPending, repo.created.Status)
	assert.Equal(t, 1.0950, repo.created.TP2)
	assert.Equal(t, 0.0, repo.created.TP3)
}

func TestAddSignalHandlerDuplicate(t *testing.T) {
	repo := &mockSignalCreator{err: repository.ErrDuplicateSignal}
	handler := AddSignalHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/add_signal", strings.NewReader(validSubmission))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAddSignalHandlerValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"bad json", `{`, "Invalid JSON format"},
		{"missing message_id", `{"channel_id":1,"symbol":"EURUSD","action":"BUY","entry_price":1,"stop_loss":0.9,"tp1":1.1,"raw_message":"x"}`, "Missing required field: message_id"},
		{"missing tp1", `{"message_id":1,"channel_id":1,"symbol":"EURUSD","action":"BUY","entry_price":1,"stop_loss":0.9,"raw_message":"x"}`, "Missing required field: tp1"},
		{"bad action", `{"message_id":1,"channel_id":1,"symbol":"EURUSD","action":"LONG","entry_price":1,"stop_loss":0.9,"tp1":1.1,"raw_message":"x"}`, "Invalid action: must be BUY or SELL"},
		{"zero tp1", `{"message_id":1,"channel_id":1,"symbol":"EURUSD","action":"BUY","entry_price":1,"stop_loss":0.9,"tp1":0,"raw_message":"x"}`, "tp1 must be greater than zero"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockSignalCreator{}
			handler := AddSignalHandler(repo)

			req := httptest.NewRequest(http.MethodPost, "/add_signal", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			assert.Contains(t, rr.Body.String(), tc.wantMsg)
			if repo.calls != 0 {
				t.Fatal("invalid submission reached the repository")
			}
		})
	}
}

func TestGetPendingSignalsHandler(t *testing.T) {
	repo := &mockPendingLister{signals: []model.Signal{
		{ID: "a", MessageID: 1, Symbol: "EURUSD", Action: "BUY", EntryPrice: 1.085, StopLoss: 1.08, TP1: 1.09, TP2: 1.095, TP3: 1.1},
		{ID: "b", MessageID: 2, Symbol: "XAUUSD", Action: "SELL", EntryPrice: 2320, StopLoss: 2340, TP1: 2300},
	}}
	handler := GetPendingSignalsHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/get_pending_signals", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if repo.limit != 10 {
		t.Fatalf("expected poll limit 10, got %d", repo.limit)
	}

	var resp struct {
		Signals []struct {
			ID  string   `json:"id"`
			TP2 *float64 `json:"tp2"`
			TP3 *float64 `json:"tp3"`
		} `json:"signals"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(resp.Signals))
	}

	// Configured levels come through, absent ones are null.
	assert.NotNil(t, resp.Signals[0].TP2)
	assert.NotNil(t, resp.Signals[0].TP3)
	assert.Nil(t, resp.Signals[1].TP2)
	assert.Nil(t, resp.Signals[1].TP3)
}

func TestGetPendingSignalsHandlerEmpty(t *testing.T) {
	handler := GetPendingSignalsHandler(&mockPendingLister{})

	req := httptest.NewRequest(http.MethodGet, "/get_pending_signals", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	assert.JSONEq(t, `{"signals":[]}`, rr.Body.String())
}
