package retry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultProfileTTL and DefaultProfileCap implement spec.md's adaptive-mode
// persistence defaults: 7-day TTL, 100-profile LRU cap.
const (
	DefaultProfileTTL = 7 * 24 * time.Hour
	DefaultProfileCap = 100
)

// ServerProfile is the learned adaptive-mode state for one server,
// keyed by canonicalized host:port.
type ServerProfile struct {
	Host         string    `json:"host"`
	Arms         []betaArm `json:"arms"`
	LastUpdated  time.Time `json:"last_updated"`
	AttemptCount int       `json:"attempt_count"`
}

func newServerProfile(host string) *ServerProfile {
	arms := make([]betaArm, len(banditArms))
	for i := range arms {
		arms[i] = newBetaArm()
	}
	return &ServerProfile{Host: host, Arms: arms, LastUpdated: time.Now()}
}

func (p *ServerProfile) arm(i int) betaArm {
	if i < 0 || i >= len(p.Arms) {
		return newBetaArm()
	}
	return p.Arms[i]
}

func (p *ServerProfile) update(i int, success bool) {
	if i < 0 || i >= len(p.Arms) {
		return
	}
	if success {
		p.Arms[i].Alpha++
	} else {
		p.Arms[i].Beta++
	}
	p.AttemptCount++
	p.LastUpdated = time.Now()
}

// ProfileStore persists ServerProfiles under a cache directory, one JSON
// file per server named by a hash of its canonical key. It enforces the
// TTL and LRU-by-file-mtime eviction spec.md's adaptive mode requires.
type ProfileStore struct {
	dir string
	ttl time.Duration
	maxProfiles int
	log zerolog.Logger

	mu       sync.Mutex
	profiles map[string]*ServerProfile
	dirty    map[string]bool
}

// NewProfileStore creates a store rooted at dir (created if absent).
// ttl <= 0 and maxProfiles <= 0 fall back to the package defaults.
func NewProfileStore(dir string, ttl time.Duration, maxProfiles int, log zerolog.Logger) (*ProfileStore, error) {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	if maxProfiles <= 0 {
		maxProfiles = DefaultProfileCap
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profile cache directory: %w", err)
	}

	return &ProfileStore{
		dir:      dir,
		ttl:      ttl,
		maxProfiles: maxProfiles,
		log:      log,
		profiles: make(map[string]*ServerProfile),
		dirty:    make(map[string]bool),
	}, nil
}

func (s *ProfileStore) fileFor(host string) string {
	sum := sha256.Sum256([]byte(host))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

// Load returns the cached profile for host, reading it from disk on
// first access in this process and discarding it (with a log event) if
// it's corrupt or past its TTL.
func (s *ProfileStore) Load(host string) *ServerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.profiles[host]; ok {
		return p
	}

	path := s.fileFor(host)
	data, err := os.ReadFile(path)
	if err != nil {
		p := newServerProfile(host)
		s.profiles[host] = p
		return p
	}

	var p ServerProfile
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warn().Str("host", host).Err(err).Msg("discarding corrupt server profile")
		os.Remove(path) //nolint:errcheck
		fresh := newServerProfile(host)
		s.profiles[host] = fresh
		return fresh
	}

	if time.Since(p.LastUpdated) > s.ttl {
		s.log.Info().Str("host", host).Msg("server profile expired, resetting")
		fresh := newServerProfile(host)
		s.profiles[host] = fresh
		return fresh
	}

	if len(p.Arms) != len(banditArms) {
		// arm set changed since this profile was written; reset cleanly
		// rather than guess at a migration.
		fresh := newServerProfile(host)
		s.profiles[host] = fresh
		return fresh
	}

	s.profiles[host] = &p
	return &p
}

// MarkDirty records that host's in-memory profile changed and should be
// flushed on the next Flush call.
func (s *ProfileStore) MarkDirty(host string) {
	s.mu.Lock()
	s.dirty[host] = true
	s.mu.Unlock()
}

// Flush writes every dirty profile to disk, then enforces the LRU cap by
// removing the oldest files beyond it.
func (s *ProfileStore) Flush() error {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = make(map[string]bool)
	profiles := make(map[string]*ServerProfile, len(dirty))
	for host := range dirty {
		if p, ok := s.profiles[host]; ok {
			profiles[host] = p
		}
	}
	s.mu.Unlock()

	for host, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(s.fileFor(host), data, 0o644); err != nil {
			return err
		}
	}

	return s.evictOverCap()
}

func (s *ProfileStore) evictOverCap() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(s.dir, e.Name()), modTime: info.ModTime()})
	}

	if len(files) <= s.maxProfiles {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files[:len(files)-s.maxProfiles] {
		os.Remove(f.path) //nolint:errcheck
	}

	return nil
}
