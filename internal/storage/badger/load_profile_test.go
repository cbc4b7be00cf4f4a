package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"
)

const profileTOML = `
birth_year = 1975

[[names]]
first = "Ann"
last = "Doe"

[[names]]
first = "Ann"
middle = "B"
last = "Doe"

[[addresses]]
city = "Dallas"
state = "TX"
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProfileGeneratesQueries(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewProfileStorage(db, logger)
	ctx := context.Background()

	path := writeProfile(t, profileTOML)
	if err := LoadProfileFromFile(ctx, storage, path, logger); err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}

	queries, err := storage.ListProfileQueries(ctx)
	if err != nil {
		t.Fatalf("Failed to list queries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("Expected 2 queries (2 names x 1 address), got %d", len(queries))
	}
	for _, q := range queries {
		if q.ID == "" {
			t.Error("Query saved without an ID")
		}
		if q.BirthYear != 1975 {
			t.Errorf("Expected birth year 1975, got %d", q.BirthYear)
		}
		if q.City != "Dallas" || q.State != "TX" {
			t.Errorf("Unexpected address %s, %s", q.City, q.State)
		}
	}
}

func TestLoadProfileReloadKeepsIDsAndDeprecates(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	storage := NewProfileStorage(db, logger)
	ctx := context.Background()

	path := writeProfile(t, profileTOML)
	if err := LoadProfileFromFile(ctx, storage, path, logger); err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}
	before, err := storage.ListProfileQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	idsBefore := make(map[string]string)
	for _, q := range before {
		idsBefore[q.FirstName+"|"+q.MiddleName] = q.ID
	}

	// Second load drops the middle-name variant.
	trimmed := `
birth_year = 1975

[[names]]
first = "Ann"
last = "Doe"

[[addresses]]
city = "Dallas"
state = "TX"
`
	path2 := writeProfile(t, trimmed)
	if err := LoadProfileFromFile(ctx, storage, path2, logger); err != nil {
		t.Fatalf("Failed to reload profile: %v", err)
	}

	after, err := storage.ListProfileQueries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Fatalf("Expected deprecated query kept in storage, got %d queries", len(after))
	}

	var live, deprecated int
	for _, q := range after {
		if q.Deprecated {
			deprecated++
			if q.MiddleName != "B" {
				t.Errorf("Wrong query deprecated: %s %s %s", q.FirstName, q.MiddleName, q.LastName)
			}
		} else {
			live++
			if q.ID != idsBefore[q.FirstName+"|"+q.MiddleName] {
				t.Error("Surviving query did not keep its ID across reloads")
			}
		}
	}
	if live != 1 || deprecated != 1 {
		t.Errorf("Expected 1 live and 1 deprecated query, got %d live, %d deprecated", live, deprecated)
	}
}

func TestEnsureScanJobs(t *testing.T) {
	db := openTestDB(t)
	logger := arbor.NewLogger()
	manager := &Manager{
		BrokerStorage:  NewBrokerStorage(db, logger),
		ProfileStorage: NewProfileStorage(db, logger),
		JobStorage:     NewJobStorage(db, logger),
		EventStorage:   NewEventStorage(db, logger),
		db:             db,
		logger:         logger,
	}
	ctx := context.Background()

	if err := manager.SaveBroker(ctx, testBroker("broker-1")); err != nil {
		t.Fatal(err)
	}
	path := writeProfile(t, profileTOML)
	if err := LoadProfileFromFile(ctx, manager, path, logger); err != nil {
		t.Fatal(err)
	}

	if err := EnsureScanJobs(ctx, manager, logger); err != nil {
		t.Fatalf("Failed to ensure scan jobs: %v", err)
	}

	jobs, err := manager.ListScanJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 scan jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.PreferredRunDate == nil {
			t.Errorf("New scan job %s has no preferred run date", job.Key())
		}
	}

	// Idempotent: a second pass creates nothing and resets nothing.
	if err := EnsureScanJobs(ctx, manager, logger); err != nil {
		t.Fatal(err)
	}
	jobs, err = manager.ListScanJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected scan job count unchanged, got %d", len(jobs))
	}
}
