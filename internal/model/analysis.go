package model

import "encoding/json"

// AnalysisField names a single field of the per-listing analysis hash.
type AnalysisField string

const (
	FieldBusinessScoreData       AnalysisField = "businessScoreData"
	FieldBusinessScoreTimestamp  AnalysisField = "businessScoreTimestamp"
	FieldRecommendationData      AnalysisField = "recommendationData"
	FieldRecommendationTimestamp AnalysisField = "recommendationTimestamp"
	FieldLocationDemographics    AnalysisField = "locationDemographics"
)

// Analysis is the per-listing analysis record. Each field is written
// independently as its analysis kind completes, so any subset may be
// populated at any time. Presence of a data field is the sole completion
// signal for its kind.
type Analysis struct {
	BusinessScoreData       json.RawMessage `json:"businessScoreData,omitempty"`
	BusinessScoreTimestamp  string          `json:"businessScoreTimestamp,omitempty"`
	RecommendationData      json.RawMessage `json:"recommendationData,omitempty"`
	RecommendationTimestamp string          `json:"recommendationTimestamp,omitempty"`
	LocationDemographics    string          `json:"locationDemographics,omitempty"`
}

// Empty reports whether no analysis kind has completed yet. Stores treat
// an empty record as absent.
func (a *Analysis) Empty() bool {
	return len(a.BusinessScoreData) == 0 &&
		len(a.RecommendationData) == 0 &&
		a.LocationDemographics == ""
}

// SetField assigns a raw field value to the matching struct member. Unknown
// fields are ignored so stores can round-trip records written by newer
// versions.
func (a *Analysis) SetField(field AnalysisField, value string) {
	switch field {
	case FieldBusinessScoreData:
		a.BusinessScoreData = json.RawMessage(value)
	case FieldBusinessScoreTimestamp:
		a.BusinessScoreTimestamp = value
	case FieldRecommendationData:
		a.RecommendationData = json.RawMessage(value)
	case FieldRecommendationTimestamp:
		a.RecommendationTimestamp = value
	case FieldLocationDemographics:
		a.LocationDemographics = value
	}
}
