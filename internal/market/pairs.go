package market

import "strings"

// ReferenceAsset sizes positions and carries balance and PnL accounting
const ReferenceAsset = "BNB"

// QuoteAssets are the stablecoin quotes recognised when splitting a pair
var QuoteAssets = []string{"USDT", "BUSD", "USDC", "FDUSD"}

// SplitPair resolves base and quote assets from a pair identifier.
// Pairs quoted in the reference asset split on its suffix; pairs starting with it split after it;
// other pairs split on a known quote suffix, else after the first three characters.
func SplitPair(pair string) (base, quote string) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	switch {
	case strings.HasSuffix(pair, ReferenceAsset) && len(pair) > len(ReferenceAsset):
		return pair[:len(pair)-len(ReferenceAsset)], ReferenceAsset
	case strings.HasPrefix(pair, ReferenceAsset) && len(pair) > len(ReferenceAsset):
		return ReferenceAsset, pair[len(ReferenceAsset):]
	}
	for _, q := range QuoteAssets {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return pair[:len(pair)-len(q)], q
		}
	}
	if len(pair) > 3 {
		return pair[:3], pair[3:]
	}
	return pair, "UNKNOWN"
}

// InvolvesReference reports whether the pair trades against the reference asset on either side
func InvolvesReference(pair string) bool {
	return strings.Contains(strings.ToUpper(pair), ReferenceAsset)
}
