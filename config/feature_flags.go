package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages toggles for optional engine behaviour.
// Core rules (event acceptance, XP, streaks, awards) are never behind a flag.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Users are bucketed by a hash of their ID.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureLeaderboardCache = "leaderboard.cache"     // Serve leaderboards from Redis snapshots
	FeatureEventForwarding  = "events.forward"        // Publish domain events to the Redis channel
	FeatureJobLeaderboards  = "jobs.leaderboards"     // Periodic leaderboard precompute
	FeatureJobReconcile     = "jobs.reconcile_awards" // Periodic badge/challenge reconciliation
	FeatureAPITracing       = "api.tracing"           // Trace HTTP requests when tracing is on
)

// LoadFeatureFlags creates the default set and applies env overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.add(FeatureLeaderboardCache, "Serve leaderboards from cached snapshots", true)
	ff.add(FeatureEventForwarding, "Forward award and progress events to Redis pub/sub", true)
	ff.add(FeatureJobLeaderboards, "Precompute popular leaderboards on a schedule", true)
	ff.add(FeatureJobReconcile, "Re-evaluate badges and challenges for recently active users", true)
	ff.add(FeatureAPITracing, "Create a span per HTTP request", false)
}

func (ff *FeatureFlags) add(name, description string, enabled bool) {
	percent := 0
	if enabled {
		percent = 100
	}
	ff.features[name] = &Feature{
		Name:           name,
		Description:    description,
		Enabled:        enabled,
		RolloutPercent: percent,
	}
}

// loadFromEnvironment loads overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_LEADERBOARD_CACHE=false
// Example: FEATURE_PROGRESS_NEIGHBORS=25
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}
		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "jobs.reconcile_awards" -> "FEATURE_JOBS_RECONCILE_AWARDS"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on globally (full rollout).
func (ff *FeatureFlags) IsEnabled(name string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[name]
	return ok && f.Enabled && f.RolloutPercent >= 100
}

// IsEnabledFor reports whether a feature is on for a specific user.
func (ff *FeatureFlags) IsEnabledFor(name, userID string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[name]
	if !ok || !f.Enabled {
		return false
	}
	if f.RolloutPercent >= 100 {
		return true
	}
	return inRollout(userID, name, f.RolloutPercent)
}

// inRollout uses consistent hashing so users stay in their bucket.
func inRollout(userID, name string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// Set switches a feature on or off.
func (ff *FeatureFlags) Set(name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	if !ok {
		return
	}
	f.Enabled = enabled
	if enabled {
		f.RolloutPercent = 100
	} else {
		f.RolloutPercent = 0
	}
}

// Names returns all known feature names, sorted.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	names := make([]string, 0, len(ff.features))
	for n := range ff.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
