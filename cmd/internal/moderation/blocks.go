package moderation

import (
	"sync"
	"time"
)

const (
	// BlockStaleAfter is how long a block list survives without activity from its owner.
	BlockStaleAfter = 10 * time.Minute
	// BlockSweepInterval is how often stale lists are swept.
	BlockSweepInterval = 5 * time.Minute
)

// BlockService keeps the block lists clients sync from their repositories.
// Lists live in memory only; clients re-sync on connect.
type BlockService struct {
	mu       sync.RWMutex
	blocks   map[string]map[string]struct{}
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewBlockService() *BlockService {
	return &BlockService{
		blocks:   make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Sync replaces did's entire block list.
func (b *BlockService) Sync(did string, blocked []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen[did] = b.now()
	if len(blocked) == 0 {
		delete(b.blocks, did)
		return
	}
	set := make(map[string]struct{}, len(blocked))
	for _, d := range blocked {
		set[d] = struct{}{}
	}
	b.blocks[did] = set
}

// Touch records activity so the list is not swept.
func (b *BlockService) Touch(did string) {
	b.mu.Lock()
	b.lastSeen[did] = b.now()
	b.mu.Unlock()
}

// DoesBlock reports whether blocker's list contains target.
func (b *BlockService) DoesBlock(blocker, target string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocks[blocker][target]
	return ok
}

// IsBlocked reports whether either identity blocks the other.
func (b *BlockService) IsBlocked(a, c string) bool {
	return b.DoesBlock(a, c) || b.DoesBlock(c, a)
}

// Clear drops did's list.
func (b *BlockService) Clear(did string) {
	b.mu.Lock()
	delete(b.blocks, did)
	delete(b.lastSeen, did)
	b.mu.Unlock()
}

// Sweep removes lists whose owner has been idle longer than BlockStaleAfter.
func (b *BlockService) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-BlockStaleAfter)
	n := 0
	for did, ts := range b.lastSeen {
		if ts.Before(cutoff) {
			delete(b.blocks, did)
			delete(b.lastSeen, did)
			n++
		}
	}
	return n
}
