package fifo

import (
	"sort"

	"github.com/lucasew/edgecache/internal/eviction"
	"github.com/lucasew/edgecache/internal/repository"
)

// Name is the registry name of this strategy.
const Name = "fifo"

// FIFO evicts the oldest inserted entries first. Reads never change the order;
// only a re-insert moves a key to the newest position.
type FIFO struct{}

func init() {
	eviction.Register(Name, func() eviction.Strategy {
		return New()
	})
}

func New() *FIFO {
	return &FIFO{}
}

func (FIFO) GetVictims(entries []repository.KeyInfo, n int) []eviction.Victim {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	sorted := make([]repository.KeyInfo, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	if n > len(sorted) {
		n = len(sorted)
	}
	victims := make([]eviction.Victim, n)
	for i := 0; i < n; i++ {
		victims[i] = eviction.Victim{Key: sorted[i].Key, Seq: sorted[i].Seq}
	}
	return victims
}
