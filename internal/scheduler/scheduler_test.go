package scheduler

import (
	"context"
	"testing"
	"time"

	"moonwatch/internal/db"
	"moonwatch/internal/esi"
	"moonwatch/internal/reconcile"
)

type stubRemote struct{}

func (stubRemote) GetCorporationExtractions(ctx context.Context, corporationID int64, token string) ([]esi.ExtractionEvent, error) {
	return nil, nil
}
func (stubRemote) GetCorporationObservers(ctx context.Context, corporationID int64, token string) ([]esi.MiningObserver, error) {
	return nil, nil
}
func (stubRemote) GetStructure(ctx context.Context, structureID int64, token string) (*esi.Structure, error) {
	return &esi.Structure{Name: "Stub"}, nil
}
func (stubRemote) GetCharacterNotifications(ctx context.Context, characterID int64, token string) ([]esi.Notification, error) {
	return nil, nil
}
func (stubRemote) GetCharacterCorporationID(ctx context.Context, characterID int64) (int64, error) {
	return 2001, nil
}
func (stubRemote) GetCorporationName(ctx context.Context, corporationID int64) (string, error) {
	return "Stub Corp", nil
}
func (stubRemote) GetMoon(ctx context.Context, moonID int64) (*esi.Moon, error) {
	return &esi.Moon{MoonID: moonID}, nil
}

type stubTokens struct{}

func (stubTokens) Token(characterID int64) (string, error) { return "token", nil }

func newTestScheduler(t *testing.T) (*Scheduler, *db.DB) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	engine := &reconcile.Engine{DB: database, Remote: stubRemote{}, Tokens: stubTokens{}}
	return New(engine, 2, time.Hour, time.Hour), database
}

func TestScheduler_RunsQueuedScan(t *testing.T) {
	s, database := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	scan := "Auga V - Moon 1\n\tBitumens\t1.0\t45492\t30002542\t40162085\t40162086\n"
	s.EnqueueScan(scan, "user-1")

	deadline := time.Now().Add(5 * time.Second)
	for database.GetMoon(40162086) == nil {
		if time.Now().After(deadline) {
			t.Fatal("scan job never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	s.Stop()
}

func TestScheduler_StopWaitsForWorkers(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.EnqueueImport()
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestScheduler_DropsWhenQueueFull(t *testing.T) {
	// Never started, so nothing drains the queue.
	s, _ := newTestScheduler(t)
	for i := 0; i < cap(s.jobs)+10; i++ {
		s.EnqueueReconcile(int64(i))
	}
	if len(s.jobs) != cap(s.jobs) {
		t.Fatalf("queue length %d, want %d", len(s.jobs), cap(s.jobs))
	}
}
