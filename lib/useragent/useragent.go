// Package useragent rotates browser user-agent strings, suppressing
// short-term repeats so bursts of requests don't present a single
// fingerprint.
package useragent

import (
	"strings"
	"sync"

	"github.com/mazen160/go-random"
)

var defaults = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

const (
	recentWindow = 5
	maxRepeats   = 3
)

type Pool struct {
	mu     sync.Mutex
	agents []string
	recent []string
}

// NewPool builds a pool from the given agents, deduplicated in order.
// No agents means the built-in defaults.
func NewPool(agents ...string) *Pool {
	if len(agents) == 0 {
		agents = defaults
	}

	seen := map[string]bool{}
	unique := []string{}
	for _, agent := range agents {
		if seen[agent] {
			continue
		}
		seen[agent] = true
		unique = append(unique, agent)
	}

	return &Pool{agents: unique}
}

// Pick returns a random agent from the pool, never one that was
// already returned 3 or more times within the last 5 picks.
func (p *Pool) Pick() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.agents) == 1 {
		return p.agents[0], nil
	}

	for {
		i, err := random.IntRange(0, len(p.agents))
		if err != nil {
			return "", err
		}
		choice := p.agents[i]
		if p.repeats(choice) >= maxRepeats {
			continue
		}
		p.remember(choice)
		return choice, nil
	}
}

func (p *Pool) repeats(agent string) int {
	n := 0
	for _, recent := range p.recent {
		if recent == agent {
			n++
		}
	}
	return n
}

func (p *Pool) remember(agent string) {
	p.recent = append(p.recent, agent)
	if len(p.recent) > recentWindow {
		p.recent = p.recent[1:]
	}
}

// OSOf reports the operating system family an agent string
// advertises, or "" when none is recognized.
func OSOf(agent string) string {
	switch {
	case strings.Contains(agent, "Windows"):
		return "Windows"
	// CrOS agents also contain "X11", check before Linux
	case strings.Contains(agent, "CrOS"):
		return "Chrome OS"
	case strings.Contains(agent, "Macintosh"):
		return "macOS"
	case strings.Contains(agent, "Linux"), strings.Contains(agent, "X11"):
		return "Linux"
	}
	return ""
}
