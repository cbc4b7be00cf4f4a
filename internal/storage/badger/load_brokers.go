package badger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// LoadBrokersFromFiles loads broker definitions from TOML files in the
// given directory, one broker per file. Invalid files are skipped with a
// warning so one broken definition never blocks the rest.
func LoadBrokersFromFiles(ctx context.Context, brokerStorage interfaces.BrokerStorage, dirPath string, logger arbor.ILogger) error {
	logger.Debug().Str("dir", dirPath).Msg("Loading brokers from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Warn().Str("dir", dirPath).Msg("Brokers directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read brokers directory")
		return nil // Non-fatal
	}

	validate := validator.New()

	loadedCount := 0
	errorCount := 0
	parents := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read broker file")
			errorCount++
			continue
		}

		var broker models.Broker
		if err := toml.Unmarshal(content, &broker); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse broker file")
			errorCount++
			continue
		}

		if broker.Schedule.MaxAttempts == 0 {
			// The zero value is ambiguous in TOML; -1 is the explicit
			// unlimited sentinel and the historical default.
			broker.Schedule.MaxAttempts = models.MaxAttemptsUnlimited
		}

		if err := validate.Struct(&broker); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping broker: validation failed")
			errorCount++
			continue
		}

		if err := brokerStorage.SaveBroker(ctx, &broker); err != nil {
			logger.Warn().Err(err).Str("broker", broker.ID).Msg("Failed to save broker")
			errorCount++
			continue
		}

		parents[broker.ID] = broker.ParentID
		loadedCount++

		logger.Debug().
			Str("broker", broker.ID).
			Str("file", entry.Name()).
			Bool("child", broker.IsChild()).
			Msg("Broker loaded")
	}

	// Dangling parent references break opt-out propagation silently, so
	// call them out at load time.
	for brokerID, parentID := range parents {
		if parentID == "" {
			continue
		}
		if _, ok := parents[parentID]; !ok {
			logger.Warn().
				Str("broker", brokerID).
				Str("parent", parentID).
				Msg("Broker references a parent that was not loaded")
		}
	}

	logger.Info().
		Int("loaded", loadedCount).
		Int("errors", errorCount).
		Str("dir", dirPath).
		Msg("Broker definitions loaded")

	return nil
}
