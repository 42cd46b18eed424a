package policy

// Policy decides whether a partition holds too many entries.
type Policy interface {
	// ItemsToFree returns how many entries should be evicted.
	// Returns 0 if no eviction is needed.
	ItemsToFree(count int) int
}
