package devserver

// Panelist is one seeded debate voice. Reviews run every panelist against
// the room's topic over a fixed number of rounds.
type Panelist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Stance     string   `json:"stance"`
	PromptHint string   `json:"promptHint"`
	Traits     []string `json:"traits,omitempty"`
}

// PanelistStore exposes panelist retrieval for handlers and scripts.
type PanelistStore interface {
	List() []Panelist
	FindByID(id string) (Panelist, bool)
}

// MemoryPanelists implements PanelistStore with an in-memory slice.
type MemoryPanelists struct {
	items []Panelist
}

func NewMemoryPanelists(items []Panelist) *MemoryPanelists {
	return &MemoryPanelists{items: append([]Panelist(nil), items...)}
}

func (s *MemoryPanelists) List() []Panelist {
	return append([]Panelist(nil), s.items...)
}

func (s *MemoryPanelists) FindByID(id string) (Panelist, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Panelist{}, false
}

// SeedPanelists provides the default three-voice panel.
func SeedPanelists() []Panelist {
	return []Panelist{
		{
			ID:         "optimist",
			Name:       "Optimist",
			Title:      "Advocate for the proposal",
			Stance:     "for",
			PromptHint: "Argue the strongest honest case in favor. Concede real risks instead of waving them away.",
			Traits:     []string{"constructive", "forward-looking", "concrete"},
		},
		{
			ID:         "critic",
			Name:       "Critic",
			Title:      "Devil's advocate",
			Stance:     "against",
			PromptHint: "Attack the weakest load-bearing assumption first. Prefer failure modes over style objections.",
			Traits:     []string{"skeptical", "precise", "unsentimental"},
		},
		{
			ID:         "synthesizer",
			Name:       "Synthesizer",
			Title:      "Referee and summarizer",
			Stance:     "neutral",
			PromptHint: "Weigh both sides, cite who said what, and land on an actionable recommendation.",
			Traits:     []string{"balanced", "decisive", "citation-heavy"},
		},
	}
}
