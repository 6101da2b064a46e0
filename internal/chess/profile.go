package chess

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profile is a named bundle of engine options and step budgets.
type Profile struct {
	Name        string
	Threads     int
	HashMB      int
	MultiPV     int
	Budgets     []time.Duration
	ProbeBudget time.Duration
}

var profileMu sync.RWMutex

var DefaultProfiles = map[string]Profile{
	"quick": {
		Name:        "quick",
		Threads:     1,
		HashMB:      64,
		MultiPV:     2,
		Budgets:     ms(20, 80, 250),
		ProbeBudget: 15 * time.Millisecond,
	},
	"standard": {
		Name:        "standard",
		Threads:     2,
		HashMB:      128,
		MultiPV:     3,
		Budgets:     ms(50, 200, 600),
		ProbeBudget: 20 * time.Millisecond,
	},
	"deep": {
		Name:        "deep",
		Threads:     4,
		HashMB:      512,
		MultiPV:     4,
		Budgets:     ms(3, 12, 50, 200, 500, 2000, 5000),
		ProbeBudget: 50 * time.Millisecond,
	},
}

func ms(values ...int) []time.Duration {
	out := make([]time.Duration, 0, len(values))
	for _, v := range values {
		out = append(out, time.Duration(v)*time.Millisecond)
	}
	return out
}

func GetProfile(name string) (Profile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "default":
		key = "standard"
	case "fast":
		key = "quick"
	case "full":
		key = "deep"
	}
	profileMu.RLock()
	p, ok := DefaultProfiles[key]
	profileMu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("unknown analysis profile: %s", name)
	}
	p.Budgets = append([]time.Duration(nil), p.Budgets...)
	return p, nil
}

// RegisterProfile adds or replaces a profile after validating it.
func RegisterProfile(p Profile) error {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return fmt.Errorf("profile name required")
	}
	if err := ValidateProfile(p); err != nil {
		return err
	}
	p.Budgets = append([]time.Duration(nil), p.Budgets...)
	profileMu.Lock()
	DefaultProfiles[p.Name] = p
	profileMu.Unlock()
	return nil
}

func ProfileNames() []string {
	profileMu.RLock()
	defer profileMu.RUnlock()
	names := make([]string, 0, len(DefaultProfiles))
	for name := range DefaultProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ValidateProfile(p Profile) error {
	switch {
	case p.Threads <= 0:
		return fmt.Errorf("threads must be > 0: %d", p.Threads)
	case p.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", p.HashMB)
	case p.MultiPV <= 0:
		return fmt.Errorf("multipv must be > 0: %d", p.MultiPV)
	case len(p.Budgets) == 0:
		return fmt.Errorf("profile %s defines no budgets", p.Name)
	case p.ProbeBudget < 0:
		return fmt.Errorf("probe budget must be >= 0: %s", p.ProbeBudget)
	}
	for i, b := range p.Budgets {
		if b <= 0 {
			return fmt.Errorf("budget %d must be > 0: %s", i, b)
		}
	}
	return nil
}
