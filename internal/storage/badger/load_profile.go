package badger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/common"
	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// profileFile is the on-disk shape of the monitored person's profile.
// Queries are generated as the cartesian product of names and addresses.
type profileFile struct {
	BirthYear int `toml:"birth_year"`
	Names     []struct {
		First  string `toml:"first"`
		Middle string `toml:"middle"`
		Last   string `toml:"last"`
	} `toml:"names"`
	Addresses []struct {
		City  string `toml:"city"`
		State string `toml:"state"`
	} `toml:"addresses"`
}

// LoadProfileFromFile loads the profile definition and reconciles the
// stored profile queries against it. New combinations are created,
// existing ones keep their IDs and history, and stored queries no longer
// present in the file are marked deprecated rather than deleted.
func LoadProfileFromFile(ctx context.Context, profileStorage interfaces.ProfileStorage, path string, logger arbor.ILogger) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read profile file %s: %w", path, err)
	}

	var profile profileFile
	if err := toml.Unmarshal(content, &profile); err != nil {
		return fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}

	if len(profile.Names) == 0 || len(profile.Addresses) == 0 {
		return fmt.Errorf("profile file %s needs at least one name and one address", path)
	}

	existing, err := profileStorage.ListProfileQueries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stored profile queries: %w", err)
	}
	byKey := make(map[string]*models.ProfileQuery, len(existing))
	for _, q := range existing {
		byKey[queryKey(q)] = q
	}

	created := 0
	kept := 0
	seen := make(map[string]bool)

	for _, name := range profile.Names {
		for _, addr := range profile.Addresses {
			query := &models.ProfileQuery{
				FirstName:  name.First,
				MiddleName: name.Middle,
				LastName:   name.Last,
				City:       addr.City,
				State:      addr.State,
				BirthYear:  profile.BirthYear,
			}
			key := queryKey(query)
			seen[key] = true

			if stored, ok := byKey[key]; ok {
				kept++
				if stored.Deprecated {
					// The combination came back; revive it.
					stored.Deprecated = false
					if err := profileStorage.SaveProfileQuery(ctx, stored); err != nil {
						return fmt.Errorf("failed to revive profile query %s: %w", stored.ID, err)
					}
					logger.Info().Str("profile_query", stored.ID).Msg("Deprecated profile query revived")
				}
				continue
			}

			query.ID = common.NewProfileQueryID()
			query.CreatedAt = time.Now()
			if err := profileStorage.SaveProfileQuery(ctx, query); err != nil {
				return fmt.Errorf("failed to save profile query: %w", err)
			}
			created++
		}
	}

	deprecated := 0
	for key, stored := range byKey {
		if seen[key] || stored.Deprecated {
			continue
		}
		stored.Deprecated = true
		if err := profileStorage.SaveProfileQuery(ctx, stored); err != nil {
			return fmt.Errorf("failed to deprecate profile query %s: %w", stored.ID, err)
		}
		deprecated++
		logger.Info().Str("profile_query", stored.ID).Msg("Profile query deprecated, combination removed from profile")
	}

	logger.Info().
		Int("created", created).
		Int("kept", kept).
		Int("deprecated", deprecated).
		Str("file", path).
		Msg("Profile queries reconciled")

	return nil
}

func queryKey(q *models.ProfileQuery) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%d", q.FirstName, q.MiddleName, q.LastName, q.City, q.State, q.BirthYear)
}

// EnsureScanJobs creates the missing scan jobs for every
// (broker, profile query) combination. New tuples get an immediate
// preferred run date so the next pass picks them up.
func EnsureScanJobs(ctx context.Context, store interfaces.Store, logger arbor.ILogger) error {
	brokers, err := store.ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list brokers: %w", err)
	}
	queries, err := store.ListProfileQueries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list profile queries: %w", err)
	}

	created := 0
	now := time.Now()
	for _, broker := range brokers {
		for _, query := range queries {
			if query.Deprecated {
				continue
			}
			if _, err := store.GetScanJob(ctx, broker.ID, query.ID); err == nil {
				continue
			}
			job := &models.ScanJobData{
				BrokerID:         broker.ID,
				ProfileQueryID:   query.ID,
				PreferredRunDate: &now,
			}
			if err := store.SaveScanJob(ctx, job); err != nil {
				return fmt.Errorf("failed to create scan job %s: %w", job.Key(), err)
			}
			created++
		}
	}

	if created > 0 {
		logger.Info().Int("created", created).Msg("Scan jobs created for new tuples")
	}
	return nil
}
