package models

// Settings is the singleton configuration record written by init.
type Settings struct {
	ListURI       string   `json:"list_uri"`
	AccountDID    string   `json:"account_did"`
	AccountHandle string   `json:"account_handle"`
	InitializedAt string   `json:"initialized_at"`
	Categories    []string `json:"categories"`
	EntityTypes   []string `json:"entity_types"`
}

func (s *Settings) Initialized() bool {
	return s != nil && s.ListURI != ""
}

var DefaultCategories = []string{
	"geodynamics", "seismology", "volcanology", "petrology",
	"mineralogy", "geochemistry", "paleontology", "geomorphology",
	"hydrogeology", "planetary", "geophysics", "tectonics",
	"sedimentology", "glaciology", "geodesy", "stratigraphy",
	"marine_geology", "environmental_science", "climate_science",
	"atmospheric_science", "oceanography", "ecology", "sustainability",
	"natural_hazards", "remote_sensing", "engineering_geology", "other",
}

var DefaultEntityTypes = []string{
	"individual", "institution", "department", "society", "journal",
	"podcast", "service", "bot",
}

// ApplyDefaults fills empty vocabularies.
func (s *Settings) ApplyDefaults() {
	if len(s.Categories) == 0 {
		s.Categories = append([]string(nil), DefaultCategories...)
	}
	if len(s.EntityTypes) == 0 {
		s.EntityTypes = append([]string(nil), DefaultEntityTypes...)
	}
}
