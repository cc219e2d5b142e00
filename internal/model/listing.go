package model

import (
	"encoding/json"
	"time"
)

// ExtractionData holds the raw output of the extraction provider. The JSON
// payload is provider-defined and opaque; no schema is enforced beyond
// presence.
type ExtractionData struct {
	Success bool            `json:"success"`
	JSON    json.RawMessage `json:"json"`
}

// Listing is one scraped business-for-sale page. Created once per successful
// extraction and never mutated afterwards.
type Listing struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Data      ExtractionData `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}
