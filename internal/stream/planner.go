// Package stream manages sharded WebSocket connections to the exchange's
// combined-stream endpoint: the Shard Planner partitions the symbol
// universe into shard configs, and the Stream Worker maintains one
// connection per shard with backoff and bounded-channel backpressure.
package stream

import "fmt"

// defaultSymbolsPerShard matches original_source's chunk_size = 50 in
// multi_stream_collector.py's _create_streams.
const defaultSymbolsPerShard = 50

// ShardConfig is the planner's output unit: one WS connection's worth of
// subscriptions.
type ShardConfig struct {
	ShardID  string
	Symbols  []string
	Channels []string
}

// Plan block-partitions symbols into shards of symbolsPerShard (0 = use
// the default of 50), one shard set per channel class in channelClasses
// so high-rate streams (depth) don't share a connection with low-rate
// ones (bookTicker, markPrice) — spec §4.2's "MAY emit separate shard
// sets per channel class".
//
// Label prefixes each channel class's shard ids, e.g. "ticker",
// "depth", so operators can tell shards apart in logs.
type ChannelClass struct {
	Label    string
	Channels []string
	Symbols  []string // scope override, e.g. depth limited to DEPTH_TOP_SYMBOLS; nil = use the full symbol list
}

// Plan produces shard configs for every channel class. symbolsPerShard
// <= 0 uses defaultSymbolsPerShard.
func Plan(symbols []string, classes []ChannelClass, symbolsPerShard int) []ShardConfig {
	if symbolsPerShard <= 0 {
		symbolsPerShard = defaultSymbolsPerShard
	}

	var shards []ShardConfig
	for _, class := range classes {
		scope := class.Symbols
		if scope == nil {
			scope = symbols
		}
		shards = append(shards, planClass(class.Label, scope, class.Channels, symbolsPerShard)...)
	}
	return shards
}

func planClass(label string, symbols, channels []string, symbolsPerShard int) []ShardConfig {
	if len(symbols) == 0 || len(channels) == 0 {
		return nil
	}

	var shards []ShardConfig
	for i := 0; i < len(symbols); i += symbolsPerShard {
		end := i + symbolsPerShard
		if end > len(symbols) {
			end = len(symbols)
		}
		shards = append(shards, ShardConfig{
			ShardID:  fmt.Sprintf("%s-%d", label, len(shards)),
			Symbols:  append([]string(nil), symbols[i:end]...),
			Channels: append([]string(nil), channels...),
		})
	}
	return shards
}

// StreamNames builds the combined-stream path segments for a shard, e.g.
// "btcusdt@bookTicker" for every (symbol, channel) pair.
func (s ShardConfig) StreamNames() []string {
	names := make([]string, 0, len(s.Symbols)*len(s.Channels))
	for _, sym := range s.Symbols {
		for _, ch := range s.Channels {
			names = append(names, fmt.Sprintf("%s@%s", lower(sym), ch))
		}
	}
	return names
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
