package supervisor

import (
	"reflect"
	"testing"
)

func TestResolveUniverseFiltersUnknowns(t *testing.T) {
	candidates := []string{"BTCUSDT", "FAKEUSDT", "ETHUSDT"}
	live := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

	got, err := ResolveUniverse(candidates, live, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestResolveUniverseAllUnknownErrors(t *testing.T) {
	_, err := ResolveUniverse([]string{"FAKEUSDT"}, []string{"BTCUSDT"}, 0, "")
	if err == nil {
		t.Fatal("expected an error when no candidates are tradable")
	}
}

func TestResolveUniverseRotatesOnStartingSymbol(t *testing.T) {
	candidates := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"}
	live := candidates

	got, err := ResolveUniverse(candidates, live, 0, "SOLUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"SOLUSDT", "ADAUSDT", "BTCUSDT", "ETHUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestResolveUniverseUnknownStartingSymbolErrors(t *testing.T) {
	_, err := ResolveUniverse([]string{"BTCUSDT"}, []string{"BTCUSDT"}, 0, "ZZZUSDT")
	if err == nil {
		t.Fatal("expected an error for a starting symbol outside the resolved universe")
	}
}

func TestResolveUniverseCapsToTotalSymbols(t *testing.T) {
	candidates := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"}
	got, err := ResolveUniverse(candidates, candidates, 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected cap of 2, got %d: %v", len(got), got)
	}
}

func TestResolveUniverseZeroTotalMeansNoCap(t *testing.T) {
	candidates := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	got, err := ResolveUniverse(candidates, candidates, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected no cap, got %d", len(got))
	}
}
