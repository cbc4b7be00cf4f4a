package interfaces

import "github.com/ternarybob/expunge/internal/models"

// TelemetryEvent is one fire-and-forget notification for the host.
type TelemetryEvent struct {
	Name               string
	BrokerID           string
	ProfileQueryID     string
	ExtractedProfileID string
	Fields             map[string]interface{}
}

// EventService receives telemetry notifications. Implementations must
// never block the caller; dropping under pressure is acceptable.
type EventService interface {
	Fire(event TelemetryEvent)
	FireMismatch(mismatch models.Mismatch)
}
