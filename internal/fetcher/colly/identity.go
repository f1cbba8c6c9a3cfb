package collyfetcher

import (
	"sync"

	"github.com/JakeFAU/ptt-stock-crawler/internal/config"
)

// identityPool cycles through browser user agents. Rotation is round-robin
// so consecutive identities always differ when more than one is configured.
type identityPool struct {
	mu     sync.Mutex
	agents []string
	idx    int
}

func newIdentityPool(agents []string) *identityPool {
	filtered := make([]string, 0, len(agents))
	for _, a := range agents {
		if a != "" {
			filtered = append(filtered, a)
		}
	}
	if len(filtered) == 0 {
		filtered = append(filtered, config.DefaultUserAgents...)
	}
	return &identityPool{agents: filtered}
}

func (p *identityPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.idx]
}

func (p *identityPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idx = (p.idx + 1) % len(p.agents)
	return p.agents[p.idx]
}
