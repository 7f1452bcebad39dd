// Package memory implements the Task Memory Ledger: the per-run, append-only
// record of every stage attempt's logs, artifact paths, and analysis insights.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hdlforge/crucible/pkg/domain"
)

// Entry is one (node, stage, attempt) record. Entries are never overwritten,
// only appended, so every attempt's evidence survives for debugging.
type Entry struct {
	NodeID     string       `json:"node_id"`
	Stage      domain.Stage `json:"stage"`
	Attempt    int          `json:"attempt"`
	LogPath    string       `json:"log_path,omitempty"`
	Artifacts  []string     `json:"artifacts,omitempty"`
	Insight    string       `json:"insight,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// Ledger persists entries under root/<node>/<stage>_attempt<N>/ and keeps an
// in-memory index for lookups. It is an explicit run-scoped lifecycle object:
// Open purges any prior run's entries before the first dispatch, and each run
// owns its own instance, so concurrent runs (e.g. in tests) do not interfere.
type Ledger struct {
	root string

	mu      sync.Mutex
	entries map[string][]Entry // node id -> entries in append order
}

// Open purges root and returns a fresh ledger for one run.
func Open(root string) (*Ledger, error) {
	if root == "" {
		return nil, fmt.Errorf("ledger root cannot be empty")
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("purge task memory: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create task memory root: %w", err)
	}
	return &Ledger{root: root, entries: make(map[string][]Entry)}, nil
}

// Root returns the ledger's filesystem root.
func (l *Ledger) Root() string {
	return l.root
}

func (l *Ledger) stageDir(nodeID string, stage domain.Stage, attempt int) string {
	return filepath.Join(l.root, nodeID, fmt.Sprintf("%s_attempt%d", stage, attempt))
}

// Record appends one attempt's evidence: the worker log, produced artifact
// paths, and an optional insight. The log is written to disk before the entry
// becomes visible to readers.
func (l *Ledger) Record(nodeID string, stage domain.Stage, attempt int, log string, artifacts map[string]string, insight string) (Entry, error) {
	dir := l.stageDir(nodeID, stage, attempt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("create stage dir: %w", err)
	}

	entry := Entry{
		NodeID:     nodeID,
		Stage:      stage,
		Attempt:    attempt,
		RecordedAt: time.Now().UTC(),
	}

	if log != "" {
		logPath := filepath.Join(dir, "log.txt")
		if err := os.WriteFile(logPath, []byte(log), 0o644); err != nil {
			return Entry{}, fmt.Errorf("write stage log: %w", err)
		}
		entry.LogPath = logPath
	}

	if len(artifacts) > 0 {
		names := make([]string, 0, len(artifacts))
		for name := range artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			entry.Artifacts = append(entry.Artifacts, artifacts[name])
		}
		data, err := json.MarshalIndent(artifacts, "", "  ")
		if err != nil {
			return Entry{}, fmt.Errorf("marshal artifacts: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "artifacts.json"), data, 0o644); err != nil {
			return Entry{}, fmt.Errorf("write artifacts: %w", err)
		}
	}

	if insight != "" {
		data, err := json.MarshalIndent(map[string]string{"insight": insight}, "", "  ")
		if err != nil {
			return Entry{}, fmt.Errorf("marshal insight: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "insight.json"), data, 0o644); err != nil {
			return Entry{}, fmt.Errorf("write insight: %w", err)
		}
		entry.Insight = insight
	}

	l.mu.Lock()
	l.entries[nodeID] = append(l.entries[nodeID], entry)
	l.mu.Unlock()
	return entry, nil
}

// Latest returns the most recent entry for a node's stage.
func (l *Ledger) Latest(nodeID string, stage domain.Stage) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[nodeID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Stage == stage {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// All returns every entry for a node in append order.
func (l *Ledger) All(nodeID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries[nodeID]...)
}

// LatestInsight returns the newest insight recorded for a node across all
// stages, used to seed debug payloads and the final report.
func (l *Ledger) LatestInsight(nodeID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[nodeID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Insight != "" {
			return entries[i].Insight
		}
	}
	return ""
}
