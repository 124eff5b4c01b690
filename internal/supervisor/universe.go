// Package supervisor resolves the symbol universe, plans shards, and
// owns the top-level lifecycle: launching workers, the writer, the
// reconstructor, and the DB watchdog, then handling graceful shutdown on
// SIGINT/SIGTERM (spec §4.7).
package supervisor

import "fmt"

// ResolveUniverse filters candidates down to the live, tradable set
// (intersection with liveTradable, preserving candidates' order), then
// rotates so startingSymbol is first, then caps to totalSymbols.
//
// liveTradable is the exchange's current USDT-perp TRADING instrument
// list (from exchangeInfo); candidates is either the operator's explicit
// SYMBOLS override or the built-in bootstrap list. totalSymbols <= 0
// means no cap. startingSymbol == "" means no rotation.
func ResolveUniverse(candidates, liveTradable []string, totalSymbols int, startingSymbol string) ([]string, error) {
	live := make(map[string]bool, len(liveTradable))
	for _, s := range liveTradable {
		live[s] = true
	}

	filtered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if live[c] {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("supervisor: no candidate symbols are tradable on the live exchange")
	}

	rotated, err := rotate(filtered, startingSymbol)
	if err != nil {
		return nil, err
	}

	if totalSymbols > 0 && totalSymbols < len(rotated) {
		rotated = rotated[:totalSymbols]
	}
	return rotated, nil
}

// rotate reorders order so that startingSymbol is first, wrapping the
// remainder around unchanged (spec §4.7: "the remainder is the original
// order minus the prefix"). A startingSymbol not present in order is an
// error, matching "filter unknowns" elsewhere in the same section.
func rotate(order []string, startingSymbol string) ([]string, error) {
	if startingSymbol == "" {
		return order, nil
	}
	idx := -1
	for i, s := range order {
		if s == startingSymbol {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("supervisor: starting symbol %q is not in the resolved universe", startingSymbol)
	}
	out := make([]string, 0, len(order))
	out = append(out, order[idx:]...)
	out = append(out, order[:idx]...)
	return out, nil
}
