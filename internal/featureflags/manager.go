// Package featureflags evaluates rollout switches such as
// "ai_generation=on,voice_chat=25%".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Flags gating Playforge features.
const (
	AIGeneration = "ai_generation"
	VoiceChat    = "voice_chat"
)

// Known lists the flags the API reports even when they are not configured.
var Known = []string{AIGeneration, VoiceChat}

type mode uint8

const (
	modeOff mode = iota
	modeOn
	modeRollout
)

type rule struct {
	mode    mode
	percent int
	raw     string
}

// Manager holds parsed flags. Overrides applied with Set live in memory
// only and are lost on restart.
type Manager struct {
	mu    sync.RWMutex
	rules map[string]rule
}

// NewManager parses raw and drops malformed entries.
func NewManager(raw string) *Manager {
	m, _ := Parse(raw)
	return m
}

// Parse is NewManager that also reports the entries it could not use.
func Parse(raw string) (*Manager, []string) {
	m := &Manager{rules: make(map[string]rule)}
	var invalid []string

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			invalid = append(invalid, pair)
			continue
		}
		if err := m.set(name, value); err != nil {
			invalid = append(invalid, pair)
		}
	}
	return m, invalid
}

func parseRule(value string) (rule, error) {
	value = normalize(value)
	switch value {
	case "on", "true", "1":
		return rule{mode: modeOn, raw: value}, nil
	case "off", "false", "0":
		return rule{mode: modeOff, raw: value}, nil
	}

	pctRaw, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{}, fmt.Errorf("unsupported flag value %q", value)
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct < 0 || pct > 100 {
		return rule{}, fmt.Errorf("invalid rollout percentage %q", value)
	}
	switch pct {
	case 0:
		return rule{mode: modeOff, raw: value}, nil
	case 100:
		return rule{mode: modeOn, raw: value}, nil
	}
	return rule{mode: modeRollout, percent: pct, raw: value}, nil
}

// Set replaces one flag's value at runtime.
func (m *Manager) Set(name, value string) error {
	if m == nil {
		return fmt.Errorf("feature flags are not configured")
	}
	return m.set(name, value)
}

func (m *Manager) set(name, value string) error {
	name = normalize(name)
	if name == "" {
		return fmt.Errorf("flag name is required")
	}
	r, err := parseRule(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rules[name] = r
	m.mu.Unlock()
	return nil
}

// Enabled reports whether name is on for userID. Percentage rollouts put
// each user in a stable bucket and never include anonymous callers.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	name = normalize(name)

	m.mu.RLock()
	r, ok := m.rules[name]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	switch r.mode {
	case modeOn:
		return true
	case modeRollout:
		return userID != 0 && rolloutBucket(name, userID) < r.percent
	default:
		return false
	}
}

// Raw returns the configured values, keyed by flag name.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string)
	if m == nil {
		return out
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, r := range m.rules {
		out[k] = r.raw
	}
	return out
}

// Snapshot evaluates every configured and known flag for userID.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	names := m.Names()
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

// Names returns configured and known flags, sorted.
func (m *Manager) Names() []string {
	seen := make(map[string]struct{}, len(Known))
	for _, k := range Known {
		seen[k] = struct{}{}
	}
	if m != nil {
		m.mu.RLock()
		for k := range m.rules {
			seen[k] = struct{}{}
		}
		m.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
