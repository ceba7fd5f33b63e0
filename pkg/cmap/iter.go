package cmap

// Range calls fn for each entry until fn returns false. Shards are read
// one at a time, so entries written during the walk may or may not be seen.
// fn must not write to the map.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for i := range m.shards {
		if !m.shards[i].each(fn) {
			return
		}
	}
}

func (b *bucket[K, V]) each(fn func(K, V) bool) bool {
	b.RLock()
	defer b.RUnlock()
	for k, v := range b.m {
		if !fn(k, v) {
			return false
		}
	}
	return true
}

// Values copies out every value.
func (m *Map[K, V]) Values() []V {
	out := make([]V, 0, m.Count())
	m.Range(func(_ K, v V) bool {
		out = append(out, v)
		return true
	})
	return out
}

// ShardStats is the population of one shard.
type ShardStats struct {
	Index int `json:"index"`
	Count int `json:"count"`
}

// Stats reports how entries are spread over the shards.
func (m *Map[K, V]) Stats() []ShardStats {
	out := make([]ShardStats, len(m.shards))
	for i := range m.shards {
		b := &m.shards[i]
		b.RLock()
		out[i] = ShardStats{Index: i, Count: len(b.m)}
		b.RUnlock()
	}
	return out
}
