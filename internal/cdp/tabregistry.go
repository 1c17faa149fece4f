package cdp

import (
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// TabInfo describes an attached browser tab.
type TabInfo struct {
	TargetID   string    `json:"target_id"`
	URL        string    `json:"url"`
	AttachedAt time.Time `json:"attached_at"`
}

// TabRegistry maps CDP target IDs to tab metadata.
type TabRegistry struct {
	tabs map[target.ID]*TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*TabInfo)}
}

// Register records targetID, or updates its URL after a navigation.
func (r *TabRegistry) Register(targetID target.ID, url string) *TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.tabs[targetID]; ok {
		info.URL = url
		copied := *info
		return &copied
	}
	info := &TabInfo{TargetID: string(targetID), URL: url, AttachedAt: time.Now().UTC()}
	r.tabs[targetID] = info
	copied := *info
	return &copied
}

func (r *TabRegistry) Get(targetID target.ID) (TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	if !ok {
		return TabInfo{}, false
	}
	return *info, true
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

// List returns all tabs ordered by attach time.
func (r *TabRegistry) List() []TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttachedAt.Equal(out[j].AttachedAt) {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].AttachedAt.Before(out[j].AttachedAt)
	})
	return out
}
