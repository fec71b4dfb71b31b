package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/retailops/posflow/internal/domain"
	"github.com/retailops/posflow/internal/domain/mocks"
)

func lowTrafficMonitor() domain.MonitorDefinition {
	return domain.MonitorDefinition{
		Name:             "low_traffic",
		WindowMinutes:    60,
		Predicate:        "txn_count < 5",
		CooldownMinutes:  1440,
		ProposedAction:   "check edge device connectivity",
		ActionConfidence: 0.9,
		IsEnabled:        true,
	}
}

func TestEngine_RunOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Trigger Writes Action And Publishes", func(t *testing.T) {
		repo := &mocks.MockMonitorRepository{
			Definitions: []domain.MonitorDefinition{lowTrafficMonitor()},
			Stats:       domain.WindowStats{TxnCount: 2},
		}
		feed := &mocks.MockFeedPublisher{}
		e := NewEngine(repo, feed, logger, nil)

		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(repo.Actions) != 1 {
			t.Fatalf("expected 1 agent action, got %d", len(repo.Actions))
		}
		action := repo.Actions[0]
		if action.MonitorName != "low_traffic" {
			t.Errorf("unexpected monitor name %q", action.MonitorName)
		}
		if action.ProposedAction != "check edge device connectivity" {
			t.Errorf("unexpected proposed action %q", action.ProposedAction)
		}
		if action.Confidence != 0.9 {
			t.Errorf("unexpected confidence %v", action.Confidence)
		}
		if len(action.Evidence) == 0 {
			t.Error("expected evidence to be recorded")
		}
		if len(feed.Published) != 1 {
			t.Errorf("expected 1 feed publish, got %d", len(feed.Published))
		}
	})

	t.Run("Cooldown Dedup", func(t *testing.T) {
		repo := &mocks.MockMonitorRepository{
			Definitions: []domain.MonitorDefinition{lowTrafficMonitor()},
			Stats:       domain.WindowStats{TxnCount: 2},
		}
		feed := &mocks.MockFeedPublisher{}
		e := NewEngine(repo, feed, logger, nil)
		e.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }

		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		// Same condition later the same day: still inside the cooldown.
		e.now = func() time.Time { return time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC) }
		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}

		if len(repo.Actions) != 1 {
			t.Errorf("expected exactly 1 agent action within the cooldown, got %d", len(repo.Actions))
		}
		if len(feed.Published) != 1 {
			t.Errorf("expected exactly 1 feed publish within the cooldown, got %d", len(feed.Published))
		}
	})

	t.Run("No Trigger When Predicate False", func(t *testing.T) {
		repo := &mocks.MockMonitorRepository{
			Definitions: []domain.MonitorDefinition{lowTrafficMonitor()},
			Stats:       domain.WindowStats{TxnCount: 50},
		}
		e := NewEngine(repo, &mocks.MockFeedPublisher{}, logger, nil)

		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(repo.Actions) != 0 {
			t.Errorf("expected no actions, got %d", len(repo.Actions))
		}
	})

	t.Run("Bad Predicate Does Not Stop Other Monitors", func(t *testing.T) {
		broken := lowTrafficMonitor()
		broken.Name = "broken"
		broken.Predicate = "txn_count <"
		repo := &mocks.MockMonitorRepository{
			Definitions: []domain.MonitorDefinition{broken, lowTrafficMonitor()},
			Stats:       domain.WindowStats{TxnCount: 2},
		}
		e := NewEngine(repo, &mocks.MockFeedPublisher{}, logger, nil)

		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatalf("engine run should isolate per-monitor failures, got %v", err)
		}
		if len(repo.Actions) != 1 {
			t.Errorf("expected the healthy monitor to trigger, got %d actions", len(repo.Actions))
		}
	})

	t.Run("Feed Failure Is Not Fatal", func(t *testing.T) {
		repo := &mocks.MockMonitorRepository{
			Definitions: []domain.MonitorDefinition{lowTrafficMonitor()},
			Stats:       domain.WindowStats{TxnCount: 2},
		}
		feed := &mocks.MockFeedPublisher{PublishErr: errors.New("redis down")}
		e := NewEngine(repo, feed, logger, nil)

		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatalf("feed failure must not fail the run, got %v", err)
		}
		if len(repo.Actions) != 1 {
			t.Errorf("ledger write should still happen, got %d actions", len(repo.Actions))
		}
	})

	t.Run("Disabled Monitors Are Skipped", func(t *testing.T) {
		def := lowTrafficMonitor()
		def.IsEnabled = false
		repo := &mocks.MockMonitorRepository{
			Definitions: []domain.MonitorDefinition{def},
			Stats:       domain.WindowStats{TxnCount: 2},
		}
		e := NewEngine(repo, &mocks.MockFeedPublisher{}, logger, nil)

		if err := e.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(repo.Actions) != 0 {
			t.Errorf("expected no actions for disabled monitor, got %d", len(repo.Actions))
		}
	})
}
