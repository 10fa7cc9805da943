package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"signalbridge/src/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&model.Signal{}, &model.TradeEvent{}, &model.Exception{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	return db
}

func storedSignal(messageID int64) *model.Signal {
	return &model.Signal{
		ID:         fmt.Sprintf("sig-%d", messageID),
		MessageID:  messageID,
		ChannelID:  -100987,
		Symbol:     "EURUSD",
		Action:     model.ActionBuy,
		EntryPrice: 1.0850,
		StopLoss:   1.0800,
		TP1:        1.0900,
		TP2:        1.0950,
		TP3:        1.1000,
		RawMessage: "BUY EURUSD @ 1.0850",
	}
}

func TestSignalRepositoryCreateAndFind(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	sig := storedSignal(1001)
	if err := repo.Create(ctx, sig); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if sig.Status != model.SignalStatusPending {
		t.Fatalf("expected pending status, got %q", sig.Status)
	}

	byID, err := repo.FindByID(ctx, sig.ID)
	if err != nil || byID == nil {
		t.Fatalf("find by id failed: %v %v", byID, err)
	}
	byMsg, err := repo.FindByMessageID(ctx, 1001)
	if err != nil || byMsg == nil {
		t.Fatalf("find by message id failed: %v %v", byMsg, err)
	}
	if byMsg.ID != sig.ID || byMsg.TP2 != 1.0950 {
		t.Fatalf("round trip mismatch: %+v", byMsg)
	}

	missing, err := repo.FindByMessageID(ctx, 9999)
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing signal, got %v %v", missing, err)
	}
}

func TestSignalRepositoryDuplicateMessageID(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	if err := repo.Create(ctx, storedSignal(2001)); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	dup := storedSignal(2001)
	dup.ID = "sig-other"
	dup.EntryPrice = 9.99 // different prices, same message: still a duplicate

	if err := repo.Create(ctx, dup); err != ErrDuplicateSignal {
		t.Fatalf("expected ErrDuplicateSignal, got %v", err)
	}

	// The first submission is untouched.
	kept, err := repo.FindByMessageID(ctx, 2001)
	if err != nil || kept == nil || kept.EntryPrice != 1.0850 {
		t.Fatalf("original signal was disturbed: %+v %v", kept, err)
	}
}

func TestSignalRepositoryListPending(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []struct {
		messageID int64
		status    string
		offset    time.Duration
	}{
		{1, model.SignalStatusPending, 2 * time.Hour},
		{2, model.SignalStatusActive, 1 * time.Hour},
		{3, model.SignalStatusCompleted, 0},
		{4, model.SignalStatusFailed, 3 * time.Hour},
	}
	for _, s := range seed {
		sig := storedSignal(s.messageID)
		sig.Status = s.status
		sig.CreatedAt = base.Add(s.offset)
		if err := db.Create(sig).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	got, err := repo.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	// Completed and failed are excluded; active still needs tracking.
	// Oldest first.
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(got))
	}
	if got[0].MessageID != 2 || got[1].MessageID != 1 {
		t.Fatalf("wrong order: %d, %d", got[0].MessageID, got[1].MessageID)
	}
}

func TestSignalRepositoryListPendingLimit(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	for i := int64(1); i <= 15; i++ {
		sig := storedSignal(i)
		sig.CreatedAt = time.Date(2026, 3, 1, 0, int(i), 0, 0, time.UTC)
		if err := db.Create(sig).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	got, err := repo.ListPending(ctx, 0) // 0 falls back to the default
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected default limit of 10, got %d", len(got))
	}
	if got[0].MessageID != 1 {
		t.Fatalf("expected oldest first, got %d", got[0].MessageID)
	}
}

func TestRecordEventStatusTransitions(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	sig := storedSignal(3001)
	if err := repo.Create(ctx, sig); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	steps := []struct {
		eventType  string
		wantStatus string
	}{
		{model.EventEAStarted, model.SignalStatusPending},
		{model.EventOrderPlaced, model.SignalStatusActive},
		{model.EventPositionOpened, model.SignalStatusActive},
		{model.EventTP1Hit, model.SignalStatusActive}, // multi-TP: not terminal
		{model.EventTP2Hit, model.SignalStatusActive},
		{model.EventTP3Hit, model.SignalStatusCompleted},
	}

	for _, step := range steps {
		resolved, err := repo.RecordEvent(ctx, sig.ID, 0, step.eventType, `{}`)
		if err != nil {
			t.Fatalf("record %s failed: %v", step.eventType, err)
		}
		if resolved.Status != step.wantStatus {
			t.Fatalf("after %s: expected status %s, got %s", step.eventType, step.wantStatus, resolved.Status)
		}
	}

	// All six events are on the audit trail in order.
	events, err := NewTradeEventRepository().WithDB(db).ListBySignal(ctx, sig.ID)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	if len(events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(events))
	}
	for i, step := range steps {
		if events[i].EventType != step.eventType {
			t.Fatalf("event %d: expected %s, got %s", i, step.eventType, events[i].EventType)
		}
	}
}

func TestRecordEventSingleTPCompletes(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	sig := storedSignal(3002)
	sig.TP2 = 0
	sig.TP3 = 0
	if err := repo.Create(ctx, sig); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := repo.RecordEvent(ctx, sig.ID, 0, model.EventPositionOpened, `{}`); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	resolved, err := repo.RecordEvent(ctx, sig.ID, 0, model.EventTP1Hit, `{"single_tp":true}`)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if resolved.Status != model.SignalStatusCompleted {
		t.Fatalf("single-TP tp1_hit must complete the signal, got %s", resolved.Status)
	}
}

func TestRecordEventErrorFailsSignal(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	sig := storedSignal(3003)
	if err := repo.Create(ctx, sig); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	resolved, err := repo.RecordEvent(ctx, sig.ID, 0, model.EventError, `{"message":"trading disabled"}`)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if resolved.Status != model.SignalStatusFailed {
		t.Fatalf("expected failed status, got %s", resolved.Status)
	}
}

// The execution side's signal id can be stale after a restart; the message
// id must still resolve the signal.
func TestRecordEventDualKeyFallback(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	sig := storedSignal(4001)
	if err := repo.Create(ctx, sig); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	resolved, err := repo.RecordEvent(ctx, "stale-uuid", 4001, model.EventSLHit, `{}`)
	if err != nil {
		t.Fatalf("fallback resolution failed: %v", err)
	}
	if resolved.ID != sig.ID {
		t.Fatalf("resolved wrong signal: %s", resolved.ID)
	}
	if resolved.Status != model.SignalStatusCompleted {
		t.Fatalf("expected completed after sl_hit, got %s", resolved.Status)
	}

	// Neither key resolving is a hard not-found.
	if _, err := repo.RecordEvent(ctx, "nope", 99999, model.EventSLHit, `{}`); err != ErrSignalNotFound {
		t.Fatalf("expected ErrSignalNotFound, got %v", err)
	}

	// Not-found appends nothing.
	count, err := NewTradeEventRepository().WithDB(db).Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
}

func TestRecordEventPersistsPayload(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	sig := storedSignal(5001)
	if err := repo.Create(ctx, sig); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	payload := `{"price":1.09,"closed_50_percent":true,"new_sl":1.085}`
	if _, err := repo.RecordEvent(ctx, sig.ID, 0, model.EventTP1Hit, payload); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	events, err := NewTradeEventRepository().WithDB(db).ListBySignal(ctx, sig.ID)
	if err != nil || len(events) != 1 {
		t.Fatalf("list events failed: %v %d", err, len(events))
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(events[0].EventData), &decoded); err != nil {
		t.Fatalf("stored payload not valid JSON: %v", err)
	}
	if decoded["closed_50_percent"] != true {
		t.Fatalf("payload mangled: %s", events[0].EventData)
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("event timestamp not set")
	}
}

func TestCountByStatus(t *testing.T) {
	db := testDB(t)
	repo := NewSignalRepository().WithDB(db)
	ctx := context.Background()

	statuses := []string{
		model.SignalStatusPending, model.SignalStatusPending,
		model.SignalStatusActive,
		model.SignalStatusCompleted, model.SignalStatusCompleted, model.SignalStatusCompleted,
	}
	for i, status := range statuses {
		sig := storedSignal(int64(6000 + i))
		sig.Status = status
		if err := db.Create(sig).Error; err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[model.SignalStatusPending] != 2 || counts[model.SignalStatusActive] != 1 || counts[model.SignalStatusCompleted] != 3 {
		t.Fatalf("wrong counts: %v", counts)
	}
	if counts[model.SignalStatusFailed] != 0 {
		t.Fatalf("expected no failed signals, got %v", counts)
	}
}
