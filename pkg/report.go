package pkg

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/attune-dev/attune/pkg/common"
	"github.com/attune-dev/attune/pkg/config"
)

// Outcome is the terminal classification of one executed unit.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeChanged
	OutcomeSkipped
	OutcomeFailed
	OutcomeIgnored
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeChanged:
		return "changed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ReportEntry is one recorded (host, task) outcome. For no_log tasks the
// parameter and message payloads have already been replaced with the
// redaction marker; only the outcome classification survives.
type ReportEntry struct {
	Host     string
	Task     string
	Module   string
	Outcome  Outcome
	Msg      string
	Params   map[string]interface{}
	Duration time.Duration
}

// RunReport aggregates per-host counters and entries into a final status.
// Host workers record concurrently; all mutation happens under one mutex.
type RunReport struct {
	mu      sync.Mutex
	entries []ReportEntry
	stats   map[string]map[string]int
}

func NewRunReport(hosts []*Host) *RunReport {
	r := &RunReport{stats: make(map[string]map[string]int)}
	for _, h := range hosts {
		r.stats[h.Name] = newHostCounters()
	}
	return r
}

func newHostCounters() map[string]int {
	return map[string]int{"ok": 0, "changed": 0, "failed": 0, "skipped": 0, "ignored": 0, "unreachable": 0}
}

// Record appends an entry and bumps the host's counters. no_log entries come
// in pre-redacted; Record additionally refuses to log their payload.
func (r *RunReport) Record(entry ReportEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	if _, ok := r.stats[entry.Host]; !ok {
		r.stats[entry.Host] = newHostCounters()
	}
	switch entry.Outcome {
	case OutcomeOK:
		r.stats[entry.Host]["ok"]++
	case OutcomeChanged:
		r.stats[entry.Host]["changed"]++
	case OutcomeSkipped:
		r.stats[entry.Host]["skipped"]++
	case OutcomeFailed:
		r.stats[entry.Host]["failed"]++
	case OutcomeIgnored:
		r.stats[entry.Host]["ignored"]++
	case OutcomeUnreachable:
		r.stats[entry.Host]["unreachable"]++
	}
}

// Entries returns a snapshot of all recorded entries.
func (r *RunReport) Entries() []ReportEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReportEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// HostStats returns a copy of one host's counters.
func (r *RunReport) HostStats(hostName string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.stats[hostName]
	if !ok {
		return newHostCounters()
	}
	out := make(map[string]int, len(stats))
	for k, v := range stats {
		out[k] = v
	}
	return out
}

// Finalize maps the aggregate outcome to a process exit status: zero when
// every host converged with no unreachable hosts and no non-ignored failure,
// non-zero otherwise.
func (r *RunReport) Finalize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stats := range r.stats {
		if stats["failed"] > 0 || stats["unreachable"] > 0 {
			return 2
		}
	}
	return 0
}

// PrintRecap renders the end-of-run summary: an aligned per-host counter
// table in plain format, a structured log entry otherwise.
func (r *RunReport) PrintRecap(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hostNames := make([]string, 0, len(r.stats))
	for name := range r.stats {
		hostNames = append(hostNames, name)
	}
	sort.Strings(hostNames)

	if cfg.Logging.Format == "plain" {
		fmt.Printf("\nPLAY RECAP ****************************************************\n")
		for _, name := range hostNames {
			s := r.stats[name]
			fmt.Printf("%s : ok=%d    changed=%d    failed=%d    skipped=%d    ignored=%d    unreachable=%d\n",
				name, s["ok"], s["changed"], s["failed"], s["skipped"], s["ignored"], s["unreachable"])
		}
		return
	}
	statsCopy := make(map[string]interface{}, len(r.stats))
	for _, name := range hostNames {
		statsCopy[name] = r.stats[name]
	}
	common.LogInfo("Play recap", map[string]interface{}{"stats": statsCopy})
}

// RedactEntry replaces a no_log entry's payload with the redaction marker
// while keeping its outcome classification.
func RedactEntry(entry ReportEntry) ReportEntry {
	entry.Params = map[string]interface{}{RedactionMarker: RedactionMarker}
	entry.Msg = RedactionMarker
	return entry
}
