package models

import "fmt"

type Strategy string

const (
	StrategyAll          Strategy = "all"
	StrategyInstitutions Strategy = "institutions"
	StrategyWeighted     Strategy = "weighted"
)

var Strategies = []Strategy{StrategyAll, StrategyInstitutions, StrategyWeighted}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown crawl strategy %q (want all, institutions or weighted)", s)
}

// institutional entity types carry extra weight in crawls
var institutionalTypes = map[string]struct{}{
	"institution": {},
	"department":  {},
	"society":     {},
	"journal":     {},
	"service":     {},
}

func IsInstitutional(entityType string) bool {
	_, ok := institutionalTypes[entityType]
	return ok
}
