package http

import (
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"` // "ok" or "degraded"
	Version   string                  `json:"version,omitempty"`
	Sequences int                     `json:"sequences"`
	Segments  int                     `json:"segments"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// SequencesResponse is the response body for GET /api/v1/sequences.
type SequencesResponse struct {
	Sequences []index.Sequence `json:"sequences"`
	Count     int              `json:"count"`
}

// SegmentsResponse lists segments in document order.
type SegmentsResponse struct {
	Segments []index.Segment `json:"segments"`
	Count    int             `json:"count"`
}

// NeighbourResponse is the response body for the next and previous
// endpoints. Segment is null at a sequence boundary.
type NeighbourResponse struct {
	Segment *index.Segment `json:"segment"`
}

// ReindexRequest is the request body for POST /api/v1/sources/reindex.
type ReindexRequest struct {
	Path string `json:"path"`
}

// ReindexResponse describes a committed reindex.
type ReindexResponse struct {
	Sequence index.Sequence `json:"sequence"`
	Created  bool           `json:"created"`
	Changes  ChangeCounts   `json:"changes"`
	// Warning is set when the change was committed but event delivery failed.
	Warning string `json:"warning,omitempty"`
}

// ChangeCounts summarizes index.Changes.
type ChangeCounts struct {
	Created         int  `json:"created"`
	Updated         int  `json:"updated"`
	Moved           int  `json:"moved"`
	Deleted         int  `json:"deleted"`
	MetadataChanged bool `json:"metadata_changed"`
}

func countChanges(ch index.Changes) ChangeCounts {
	return ChangeCounts{
		Created:         len(ch.Created),
		Updated:         len(ch.Updated),
		Moved:           len(ch.Moved),
		Deleted:         len(ch.Deleted),
		MetadataChanged: ch.MetadataChanged,
	}
}

// RemoveResponse is the response body for DELETE /api/v1/sources.
type RemoveResponse struct {
	Sequence index.Sequence `json:"sequence"`
	Warning  string         `json:"warning,omitempty"`
}
