package maxitems

// Policy triggers eviction when a partition holds more than MaxItems entries.
// A non-positive MaxItems means unbounded.
type Policy struct {
	MaxItems int
}

func (p *Policy) ItemsToFree(count int) int {
	if p.MaxItems <= 0 {
		return 0
	}
	if count > p.MaxItems {
		return count - p.MaxItems
	}
	return 0
}
