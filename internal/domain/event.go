package domain

import "time"

type EventType string

const (
	EventDocumentUpdated EventType = "document.updated"
	EventAssetDeleted    EventType = "asset.deleted"
)

// Event notifies downstream consumers (cache purgers, search indexers)
// about a change made by a run.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	DocumentID int64     `json:"document_id,omitempty"`
	AssetID    int64     `json:"asset_id,omitempty"`
	ReplacedBy int64     `json:"replaced_by,omitempty"`
	Images     int       `json:"images,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
