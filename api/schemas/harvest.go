// File: api/schemas/harvest.go
package schemas

import "fmt"

// PageReference identifies one list page. The slice produced by discovery is
// frozen before any item is processed.
type PageReference struct {
	// Ordinal is 1 based.
	Ordinal int    `json:"ordinal"`
	Address string `json:"address"`
}

func (p PageReference) String() string {
	return fmt.Sprintf("page %d (%s)", p.Ordinal, p.Address)
}

// ArtifactKind distinguishes document renderings from raster fallbacks.
type ArtifactKind string

const (
	ArtifactDocument ArtifactKind = "document"
	ArtifactImage    ArtifactKind = "image"
)

// CaptureArtifact is a file written for exactly one item.
type CaptureArtifact struct {
	Path        string       `json:"path"`
	Kind        ArtifactKind `json:"kind"`
	GlobalIndex int          `json:"global_index"`
	Reference   string       `json:"reference,omitempty"`
}

// ItemStatus is the terminal state of a single item visit.
type ItemStatus string

const (
	// ItemCaptured means an artifact was written by the harvester.
	ItemCaptured ItemStatus = "captured"
	// ItemUnverified means the operator reported completing the item by hand.
	// No artifact is attributed to it.
	ItemUnverified ItemStatus = "unverified"
)

// ItemOutcome is what the item state machine reports for a successful visit.
type ItemOutcome struct {
	Status ItemStatus `json:"status"`
	// IssuedHere is true when issuance was triggered during this visit.
	IssuedHere bool             `json:"issued_here"`
	Artifact   *CaptureArtifact `json:"artifact,omitempty"`
}

// RunProgress counts what happened during a run. It is never persisted.
type RunProgress struct {
	Attempted      int `json:"attempted"`
	Succeeded      int `json:"succeeded"`
	PagesCompleted int `json:"pages_completed"`
	Skipped        int `json:"skipped"`
	Unverified     int `json:"unverified"`
}

// SuccessRate is the share of attempted items that were saved, in percent.
// It is 0 when nothing was attempted.
func (p RunProgress) SuccessRate() float64 {
	if p.Attempted == 0 {
		return 0
	}
	return float64(p.Succeeded) * 100 / float64(p.Attempted)
}
