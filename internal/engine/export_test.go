package engine

// CachedSuits reports how many registry entries the engine holds.
func CachedSuits(e Engine) int {
	return e.suits.size()
}
