package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/david/grant-discovery/internal/models"
)

// ExtractionStrategy turns one fetched document into candidate records.
// Candidates are validated by the Extractor, not by the strategy.
type ExtractionStrategy interface {
	Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error)
}

// StrategyFactory maps strategy IDs (from sources.yaml) to implementations.
type StrategyFactory struct {
	strategies map[string]ExtractionStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]ExtractionStrategy),
	}
}

func (f *StrategyFactory) Register(id string, strategy ExtractionStrategy) {
	f.strategies[id] = strategy
}

func (f *StrategyFactory) Get(id string) (ExtractionStrategy, error) {
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

// IDs lists registered strategy ids in sorted order.
func (f *StrategyFactory) IDs() []string {
	ids := make([]string, 0, len(f.strategies))
	for id := range f.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultStrategyFactory registers one strategy per source family plus the
// format-driven ones.
func DefaultStrategyFactory() *StrategyFactory {
	f := NewStrategyFactory()
	f.Register("education", &SelectorStrategy{Preset: educationPreset})
	f.Register("arts", &SelectorStrategy{Preset: artsPreset})
	f.Register("federal", &SelectorStrategy{Preset: federalPreset})
	f.Register("selector", &SelectorStrategy{})
	f.Register("rss", &FeedStrategy{})
	f.Register("wordpress", &WordPressStrategy{})
	f.Register("grantsgov", &GrantsGovStrategy{})
	f.Register(keywordStrategyID, &KeywordStrategy{})
	return f
}
