package models

const Unknown = "unknown"

// Verdict is the relevance evaluation of a single account.
type Verdict struct {
	IsRelevant             bool     `json:"is_relevant"`
	Confidence             float64  `json:"confidence"`
	EntityType             string   `json:"entity_type"`
	Categories             []string `json:"categories"`
	InstitutionAffiliation string   `json:"institution_affiliation"`
	Reasoning              string   `json:"reasoning"`
	ActivityAssessment     string   `json:"activity_assessment"`
	RawResponse            string   `json:"raw_response,omitempty"`
}

// UnknownVerdict is what a malformed classifier response degrades to.
func UnknownVerdict(reason, raw string) *Verdict {
	return &Verdict{
		EntityType:         Unknown,
		Categories:         []string{},
		Reasoning:          reason,
		ActivityAssessment: Unknown,
		RawResponse:        raw,
	}
}

// Classification is the entity type and bot verdict for one profile in a
// batch.
type Classification struct {
	Handle     string  `json:"handle"`
	EntityType string  `json:"entity_type"`
	IsBot      bool    `json:"is_bot"`
	Confidence float64 `json:"confidence"`
}

func UnknownClassification(handle string) Classification {
	return Classification{Handle: handle, EntityType: Unknown}
}

// ListRequest is the verdict on whether a DM conversation asks to be added.
type ListRequest struct {
	IsRequest       bool   `json:"is_request"`
	RequesterHandle string `json:"requester_handle"`
	Summary         string `json:"summary"`
}
