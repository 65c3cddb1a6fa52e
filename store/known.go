package store

import (
	"github.com/bskygeo/listkeeper/models"
)

// Known records where a DID lives in the local record sets.
type Known struct {
	Set     Set
	Status  models.CandidateStatus
	Removed bool
}

// KnownIndex is every DID present in members or candidates. Discovery paths
// consult it so an account is never proposed twice.
type KnownIndex struct {
	entries map[string]Known
}

func BuildKnownIndex(members models.Members, candidates models.Candidates) *KnownIndex {
	k := &KnownIndex{entries: make(map[string]Known, len(members)+len(candidates))}
	for did, c := range candidates {
		k.AddCandidate(did, c.Status)
	}
	// membership wins over a stale candidate record for the same DID
	for did, m := range members {
		k.entries[did] = Known{Set: SetMembers, Removed: m.Removed}
	}
	return k
}

func (k *KnownIndex) Contains(did string) bool {
	_, ok := k.entries[did]
	return ok
}

func (k *KnownIndex) Lookup(did string) (Known, bool) {
	e, ok := k.entries[did]
	return e, ok
}

func (k *KnownIndex) AddCandidate(did string, status models.CandidateStatus) {
	if e, ok := k.entries[did]; ok && e.Set == SetMembers {
		return
	}
	k.entries[did] = Known{Set: SetCandidates, Status: status}
}

func (k *KnownIndex) Len() int {
	return len(k.entries)
}
