package panel

import (
	"sort"

	"github.com/clinsight/backend/internal/model/evaluation"
)

// Store exposes panel catalog lookups.
type Store interface {
	List() []Panel
	FindByName(name string) (Panel, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Panel
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied panels.
func NewMemoryStore(items []Panel) *MemoryStore {
	return &MemoryStore{items: append([]Panel(nil), items...)}
}

// List returns the catalog contents.
func (s *MemoryStore) List() []Panel {
	return append([]Panel(nil), s.items...)
}

// FindByName looks up a panel by its name.
func (s *MemoryStore) FindByName(name string) (Panel, bool) {
	for _, item := range s.items {
		if item.Name == name {
			return item, true
		}
	}
	return Panel{}, false
}

// Describe returns the catalog description for a panel, falling back to a
// generic label for names the catalog does not know.
func Describe(name string) string {
	for _, item := range Seed() {
		if item.Name == name {
			return item.Description
		}
	}
	return name + " Risk Analysis"
}

// DeriveDetection rebuilds detection metadata for the named panels from the
// local catalog and the supplied lab values. Used when an evaluation is run
// without a prior detection pass; the detection service remains authoritative
// whenever its response is on hand.
func DeriveDetection(names []string, payload map[string]float64) evaluation.Detection {
	det := evaluation.Detection{
		PanelDetails: make(map[string]evaluation.PanelDetail, len(names)),
	}

	for _, name := range names {
		p, ok := findSeed(name)
		if !ok {
			det.PanelDetails[name] = evaluation.PanelDetail{
				Status:        evaluation.StatusAvailable,
				Description:   Describe(name),
				PresentInputs: sortedKeys(payload),
				MissingInputs: []string{},
			}
			det.AvailablePanels = append(det.AvailablePanels, name)
			continue
		}

		present := make([]string, 0, len(p.ModelInputs))
		missing := make([]string, 0, len(p.ModelInputs))
		for _, input := range p.ModelInputs {
			if _, ok := payload[input]; ok {
				present = append(present, input)
			} else {
				missing = append(missing, input)
			}
		}

		status := evaluation.StatusAvailable
		if !requirementsMet(p, payload) {
			status = evaluation.StatusUnavailable
		} else {
			det.AvailablePanels = append(det.AvailablePanels, name)
		}

		det.PanelDetails[name] = evaluation.PanelDetail{
			Status:        status,
			Description:   p.Description,
			PresentInputs: present,
			MissingInputs: missing,
		}
	}

	return det
}

func requirementsMet(p Panel, payload map[string]float64) bool {
	for _, key := range p.RequiredAll {
		if _, ok := payload[key]; !ok {
			return false
		}
	}
	if len(p.RequiredAny) == 0 {
		return true
	}
	for _, key := range p.RequiredAny {
		if _, ok := payload[key]; ok {
			return true
		}
	}
	return false
}

func findSeed(name string) (Panel, bool) {
	for _, item := range Seed() {
		if item.Name == name {
			return item, true
		}
	}
	return Panel{}, false
}

func sortedKeys(payload map[string]float64) []string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
