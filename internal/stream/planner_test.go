package stream

import "testing"

func TestPlanBlockPartitionsWithRemainder(t *testing.T) {
	symbols := make([]string, 125)
	for i := range symbols {
		symbols[i] = "SYM"
	}
	classes := []ChannelClass{{Label: "ticker", Channels: []string{"bookTicker"}}}

	shards := Plan(symbols, classes, 50)
	if len(shards) != 3 {
		t.Fatalf("expected 3 shards for 125 symbols / 50 per shard, got %d", len(shards))
	}
	if len(shards[0].Symbols) != 50 || len(shards[1].Symbols) != 50 {
		t.Fatalf("expected first two shards full at 50, got %d/%d", len(shards[0].Symbols), len(shards[1].Symbols))
	}
	if len(shards[2].Symbols) != 25 {
		t.Fatalf("expected last shard to absorb the remainder of 25, got %d", len(shards[2].Symbols))
	}
}

func TestPlanDefaultSymbolsPerShard(t *testing.T) {
	symbols := make([]string, 60)
	for i := range symbols {
		symbols[i] = "SYM"
	}
	classes := []ChannelClass{{Label: "ticker", Channels: []string{"bookTicker"}}}

	shards := Plan(symbols, classes, 0)
	if len(shards) != 2 {
		t.Fatalf("expected default of 50/shard to produce 2 shards for 60 symbols, got %d", len(shards))
	}
}

func TestPlanSeparatesChannelClasses(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT"}
	classes := []ChannelClass{
		{Label: "ticker", Channels: []string{"bookTicker", "aggTrade"}},
		{Label: "depth", Channels: []string{"depth@100ms"}, Symbols: []string{"BTCUSDT"}},
	}

	shards := Plan(symbols, classes, 50)
	if len(shards) != 2 {
		t.Fatalf("expected 2 shards (one per class), got %d", len(shards))
	}
	if shards[0].ShardID != "ticker-0" || shards[1].ShardID != "depth-0" {
		t.Fatalf("unexpected shard ids: %s, %s", shards[0].ShardID, shards[1].ShardID)
	}
	if len(shards[1].Symbols) != 1 {
		t.Fatalf("expected depth shard scoped to 1 symbol, got %d", len(shards[1].Symbols))
	}
}

func TestStreamNamesLowercasesSymbol(t *testing.T) {
	s := ShardConfig{Symbols: []string{"BTCUSDT"}, Channels: []string{"bookTicker"}}
	names := s.StreamNames()
	if len(names) != 1 || names[0] != "btcusdt@bookTicker" {
		t.Fatalf("expected btcusdt@bookTicker, got %v", names)
	}
}

func TestPlanEmptyClassProducesNoShards(t *testing.T) {
	shards := Plan([]string{"BTCUSDT"}, []ChannelClass{{Label: "empty", Channels: nil}}, 50)
	if len(shards) != 0 {
		t.Fatalf("expected no shards for an empty channel list, got %d", len(shards))
	}
}
