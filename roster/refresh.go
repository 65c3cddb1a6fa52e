package roster

import (
	"context"
	"fmt"

	"github.com/bskygeo/listkeeper/models"
	"github.com/bskygeo/listkeeper/store"
)

// ProfileBatch is the most profiles fetched in one call.
const ProfileBatch = 25

// ClassifyBatch is the most profiles sent to the classifier in one call.
const ClassifyBatch = 20

type Classifier interface {
	ClassifyBatch(ctx context.Context, profiles []models.Profile) ([]models.Classification, error)
}

type RefreshReport struct {
	Selected int
	Updated  int
	Errors   int
}

func batches(dids []string, size int) [][]string {
	var out [][]string
	for len(dids) > size {
		out = append(out, dids[:size])
		dids = dids[size:]
	}
	if len(dids) > 0 {
		out = append(out, dids)
	}
	return out
}

func applyProfile(m *models.Member, p models.Profile) {
	if p.Handle != "" {
		m.Handle = p.Handle
	}
	m.DisplayName = p.DisplayName
	m.Bio = models.StringPtr(p.Description)
}

// fetchProfiles looks up a batch and indexes the result by DID. Accounts
// missing from the result are deleted or suspended.
func (r *Roster) fetchProfiles(ctx context.Context, dids []string) (map[string]models.Profile, error) {
	profiles, err := r.graph.GetProfiles(ctx, dids)
	if err != nil {
		return nil, err
	}
	byDID := make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		byDID[p.DID] = p
	}
	return byDID, nil
}

// Refresh refetches profiles of active members whose bio was never
// fetched, or of every active member when all is set.
func (r *Roster) Refresh(ctx context.Context, all bool) (*RefreshReport, error) {
	members, err := r.store.LoadMembers()
	if err != nil {
		return nil, err
	}

	var selected []string
	for _, did := range sortedDIDs(members) {
		m := members[did]
		if m.Active() && (all || m.Bio == nil) {
			selected = append(selected, did)
		}
	}

	report := &RefreshReport{Selected: len(selected)}
	if len(selected) == 0 {
		return report, nil
	}
	if err := r.backupMembers(); err != nil {
		return nil, err
	}

	cp := store.NewCheckpoint(r.saveEvery, func() error { return r.store.SaveMembers(members) })
	for _, batch := range batches(selected, ProfileBatch) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		byDID, err := r.fetchProfiles(ctx, batch)
		if err != nil {
			report.Errors += len(batch)
			r.logger.Warn("batch profile fetch failed", "size", len(batch), "err", err)
			continue
		}

		for _, did := range batch {
			p, ok := byDID[did]
			if !ok {
				report.Errors++
				continue
			}
			applyProfile(members[did], p)
			report.Updated++
			if err := cp.Tick(); err != nil {
				return report, err
			}
		}
	}

	if err := r.store.SaveMembers(members); err != nil {
		return report, err
	}
	r.logger.Info("profile refresh complete", "updated", report.Updated, "errors", report.Errors)
	return report, nil
}

type ClassifyParams struct {
	All       bool
	DryRun    bool
	BatchSize int
	// Local classifies from the stored member records without fetching
	// fresh profiles.
	Local bool
}

type ClassifyReport struct {
	Selected   []string
	Classified int
	Bots       int
	Errors     int
	ByType     map[string]int
}

// Classify assigns an entity type and a bot flag to active members that
// have no entity type yet, or to all active members.
func (r *Roster) Classify(ctx context.Context, c Classifier, p ClassifyParams) (*ClassifyReport, error) {
	if p.BatchSize <= 0 || p.BatchSize > ClassifyBatch {
		p.BatchSize = ClassifyBatch
	}

	members, err := r.store.LoadMembers()
	if err != nil {
		return nil, err
	}

	report := &ClassifyReport{ByType: map[string]int{}}
	for _, did := range sortedDIDs(members) {
		m := members[did]
		if m.Active() && (p.All || m.EntityType == "") {
			report.Selected = append(report.Selected, did)
		}
	}
	if len(report.Selected) == 0 || p.DryRun {
		return report, nil
	}

	if err := r.backupMembers(); err != nil {
		return nil, err
	}

	cp := store.NewCheckpoint(r.saveEvery, func() error { return r.store.SaveMembers(members) })
	for _, batch := range batches(report.Selected, p.BatchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		dids, profiles := r.batchProfiles(ctx, members, batch, p.Local, report)
		if len(profiles) == 0 {
			continue
		}

		results, err := c.ClassifyBatch(ctx, profiles)
		if err != nil {
			report.Errors += len(profiles)
			r.logger.Warn("classification failed", "size", len(profiles), "err", err)
			continue
		}
		if len(results) != len(dids) {
			return report, fmt.Errorf("classifier returned %d results for %d profiles", len(results), len(dids))
		}

		for i, did := range dids {
			m := members[did]
			m.EntityType = results[i].EntityType
			m.IsBot = results[i].IsBot
			m.ClassifyConfidence = results[i].Confidence

			report.Classified++
			report.ByType[m.EntityType]++
			if m.IsBot {
				report.Bots++
			}
			if err := cp.Tick(); err != nil {
				return report, err
			}
		}
	}

	if err := r.store.SaveMembers(members); err != nil {
		return report, err
	}
	r.logger.Info("classification complete", "classified", report.Classified, "bots", report.Bots, "errors", report.Errors)
	return report, nil
}

// batchProfiles returns the profiles to classify for a batch and the DIDs
// they belong to. Fetched profiles are written back to the member records.
func (r *Roster) batchProfiles(ctx context.Context, members models.Members, batch []string, local bool, report *ClassifyReport) ([]string, []models.Profile) {
	var dids []string
	var profiles []models.Profile

	if local {
		for _, did := range batch {
			m := members[did]
			dids = append(dids, did)
			profiles = append(profiles, models.Profile{
				DID:         did,
				Handle:      m.Handle,
				DisplayName: m.DisplayName,
				Description: m.BioText(),
			})
		}
		return dids, profiles
	}

	byDID, err := r.fetchProfiles(ctx, batch)
	if err != nil {
		r.logger.Warn("batch profile fetch failed", "size", len(batch), "err", err)
		byDID = nil
	}
	for _, did := range batch {
		p, ok := byDID[did]
		if !ok {
			report.Errors++
			continue
		}
		applyProfile(members[did], p)
		dids = append(dids, did)
		profiles = append(profiles, p)
	}
	return dids, profiles
}
