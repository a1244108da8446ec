package market

// PairSnapshot is one pair's 24h statistics. Published snapshots are never mutated.
type PairSnapshot struct {
	Pair        string  `json:"pair"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quote_volume"`
	PriceChange float64 `json:"price_change"` // %
	LastPrice   float64 `json:"last_price"`
}

// Filter selects tradable candidates for Query
type Filter struct {
	MinVolume      float64
	MinPriceChange float64
}

// Matches applies the volume condition for the pair's orientation, then the price-change condition.
// Pairs quoted in the reference asset are measured by quote volume; pairs starting with it by base volume.
func (f Filter) Matches(p PairSnapshot) bool {
	volumeOK := (hasSuffixFold(p.Pair, ReferenceAsset) && p.QuoteVolume >= f.MinVolume) ||
		(hasPrefixFold(p.Pair, ReferenceAsset) && p.Volume >= f.MinVolume)
	return volumeOK && abs(p.PriceChange) >= f.MinPriceChange
}

// Score ranks candidates: scaled volume plus twice the absolute percent change
func (p PairSnapshot) Score() float64 {
	var volumeScore float64
	if p.QuoteVolume > 0 {
		volumeScore = p.QuoteVolume / 1000
	} else {
		volumeScore = p.Volume / 100
	}
	return volumeScore + abs(p.PriceChange)*2
}

// rankingVolume prefers quote volume when it is known
func (p PairSnapshot) rankingVolume() float64 {
	if p.QuoteVolume > 0 {
		return p.QuoteVolume
	}
	return p.Volume
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
