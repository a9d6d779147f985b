package compaction

// overlaps reports whether the table range [start, end] shares keys with
// [lo, hi]: the table starts inside it, ends inside it, or covers it.
func overlaps[K any](cmp func(a, b K) int, start, end, lo, hi K) bool {
	within := func(k K) bool {
		return cmp(k, lo) >= 0 && cmp(k, hi) <= 0
	}
	return within(start) || within(end) || (cmp(start, lo) <= 0 && cmp(end, hi) >= 0)
}

func covers[K any](cmp func(a, b K) int, lo, hi, key K) bool {
	return cmp(key, lo) >= 0 && cmp(key, hi) <= 0
}
