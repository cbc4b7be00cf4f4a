package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/models"
)

func testBroker(id string) *models.Broker {
	return &models.Broker{
		ID:      id,
		Name:    "Test Broker " + id,
		URL:     "https://" + id + ".example.com",
		ScanURL: "https://" + id + ".example.com/search?name={fullName}",
		Version: "1.0.0",
		Schedule: models.ScheduleConfig{
			RetryErrorHours:        48,
			ConfirmOptOutScanHours: 72,
			MaintenanceScanHours:   240,
			MaxAttempts:            models.MaxAttemptsUnlimited,
			NextOptOutAttemptHours: 4,
		},
	}
}

func TestBrokerPersistenceAndChildren(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewBrokerStorage(db, logger)
	ctx := context.Background()

	parent := testBroker("parent-1")
	child := testBroker("child-1")
	child.ParentID = "parent-1"
	other := testBroker("other-1")

	for _, b := range []*models.Broker{parent, child, other} {
		if err := storage.SaveBroker(ctx, b); err != nil {
			t.Fatalf("Failed to save broker %s: %v", b.ID, err)
		}
	}

	got, err := storage.GetBroker(ctx, "child-1")
	if err != nil {
		t.Fatalf("Failed to get broker: %v", err)
	}
	if !got.IsChild() || got.ParentID != "parent-1" {
		t.Errorf("Expected child of parent-1, got parent %q", got.ParentID)
	}

	all, err := storage.ListBrokers(ctx)
	if err != nil {
		t.Fatalf("Failed to list brokers: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 brokers, got %d", len(all))
	}

	children, err := storage.ChildBrokers(ctx, "parent-1")
	if err != nil {
		t.Fatalf("Failed to list children: %v", err)
	}
	if len(children) != 1 || children[0].ID != "child-1" {
		t.Errorf("Expected exactly child-1, got %v", children)
	}

	none, err := storage.ChildBrokers(ctx, "other-1")
	if err != nil {
		t.Fatalf("Failed to list children: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no children for other-1, got %d", len(none))
	}
}

const brokerTOML = `
id = "acme-people"
name = "Acme People Search"
url = "https://acme.example.com"
scan_url = "https://acme.example.com/search?name={fullName}&state={state}"
version = "1.2.0"

[schedule]
retry_error_hours = 48
confirm_opt_out_scan_hours = 72
maintenance_scan_hours = 240
next_opt_out_attempt_hours = 4

[selectors]
result = "div.result"
name = "h3.name"

[opt_out]
url = "https://acme.example.com/optout"
submit_button = "button[type=submit]"
`

func TestLoadBrokersFromFiles(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewBrokerStorage(db, logger)
	ctx := context.Background()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "acme.toml"), []byte(brokerTOML), 0644); err != nil {
		t.Fatal(err)
	}
	// Broken file must not block the valid one.
	if err := os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("id = \"x\"\nname ="), 0644); err != nil {
		t.Fatal(err)
	}
	// Invalid schedule is rejected by validation.
	invalid := `
id = "bad-schedule"
name = "Bad"
url = "https://bad.example.com"
scan_url = "https://bad.example.com/s"

[schedule]
retry_error_hours = 0
confirm_opt_out_scan_hours = 72
maintenance_scan_hours = 240
next_opt_out_attempt_hours = 4
`
	if err := os.WriteFile(filepath.Join(dir, "invalid.toml"), []byte(invalid), 0644); err != nil {
		t.Fatal(err)
	}

	if err := LoadBrokersFromFiles(ctx, storage, dir, logger); err != nil {
		t.Fatalf("Failed to load brokers: %v", err)
	}

	brokers, err := storage.ListBrokers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(brokers) != 1 {
		t.Fatalf("Expected only the valid broker loaded, got %d", len(brokers))
	}

	broker := brokers[0]
	if broker.ID != "acme-people" {
		t.Errorf("Expected acme-people, got %s", broker.ID)
	}
	if !broker.Schedule.AttemptsUnlimited() {
		t.Errorf("Expected omitted max_attempts to default to unlimited, got %d", broker.Schedule.MaxAttempts)
	}
	if broker.Selectors.Result != "div.result" {
		t.Errorf("Unexpected result selector %q", broker.Selectors.Result)
	}
	if broker.OptOut.URL != "https://acme.example.com/optout" {
		t.Errorf("Unexpected opt-out URL %q", broker.OptOut.URL)
	}
}

func TestLoadBrokersMissingDirIsNonFatal(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewBrokerStorage(db, logger)

	if err := LoadBrokersFromFiles(context.Background(), storage, "/nonexistent/dir", logger); err != nil {
		t.Fatalf("Missing directory must be non-fatal, got %v", err)
	}
}
