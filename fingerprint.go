package hrvstr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint reduces request parameters to a short stable hash for
// cache identity. Ticker order and option-map iteration order do not
// affect the result: tickers are sorted and encoding/json emits map
// keys in sorted order.
func Fingerprint(p Params) string {
	tickers := make([]string, len(p.Tickers))
	copy(tickers, p.Tickers)
	sort.Strings(tickers)

	canonical := struct {
		Tickers []string          `json:"tickers"`
		Options map[string]string `json:"options"`
	}{Tickers: tickers, Options: p.Options}

	data, err := json.Marshal(canonical)
	if err != nil {
		// Params is strings-only; Marshal cannot fail on it.
		panic("hrvstr: fingerprint marshal: " + err.Error())
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
