// Package health runs readiness checks against backing services.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Pinger is implemented by *postgres.DB and *session.RedisStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checks maps a dependency name to its probe.
type Checks map[string]Pinger

// Report is the outcome of Run.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks"`
}

// Run pings every dependency concurrently, each bounded by timeout.
func (c Checks) Run(ctx context.Context, timeout time.Duration) Report {
	rep := Report{OK: true, Checks: make(map[string]string, len(c))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, p := range c {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res := "ok"
			if err := p.Ping(cctx); err != nil {
				res = "down"
			}
			mu.Lock()
			defer mu.Unlock()
			rep.Checks[name] = res
			if res != "ok" {
				rep.OK = false
			}
		}(name, p)
	}
	wg.Wait()
	return rep
}

// Names returns the dependency names in stable order.
func (c Checks) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
