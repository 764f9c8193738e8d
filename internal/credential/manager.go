package credential

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/constants"
	"antigravity2api-go/internal/oauth"
)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
}

// Manager schedules requests across the loaded credentials. Selection
// walks the credentials in file order and picks the least-loaded one
// that is enabled, not cooling down, not at its concurrency cap, and
// not already tried by the caller.
type Manager struct {
	mu    sync.RWMutex
	creds []*Credential

	store     *Store
	refresher Refresher

	perToken      int
	baseCooldown  int64
	onStatsChange func()
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Store     *Store
	Refresher Refresher
	Config    *config.Config
	// OnStatsChange fires after any state transition that alters the
	// stats snapshot. Optional.
	OnStatsChange func()
}

// NewManager loads credentials from the store and returns a ready
// scheduler.
func NewManager(opts ManagerOptions) (*Manager, error) {
	perToken := opts.Config.Concurrency.PerTokenConcurrency
	if perToken <= 0 {
		perToken = constants.DefaultPerTokenConcurrency
	}
	baseCooldown := opts.Config.Retry.BaseDelay
	if baseCooldown <= 0 {
		baseCooldown = constants.DefaultCooldownMS
	}

	m := &Manager{
		store:         opts.Store,
		refresher:     opts.Refresher,
		perToken:      perToken,
		baseCooldown:  baseCooldown,
		onStatsChange: opts.OnStatsChange,
	}

	creds, err := opts.Store.Load()
	if err != nil {
		return nil, err
	}
	m.creds = creds
	return m, nil
}

// EnabledCount returns the number of enabled credentials, the input to
// auto concurrency sizing.
func (m *Manager) EnabledCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.creds {
		if c.Enabled() {
			n++
		}
	}
	return n
}

// Count returns the total number of loaded credentials.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.creds)
}

// Reload replaces the credential set from disk, preserving runtime
// state for records whose refresh_token is unchanged.
func (m *Manager) Reload() error {
	fresh, err := m.store.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev := make(map[string]*Credential, len(m.creds))
	for _, c := range m.creds {
		prev[c.RefreshToken] = c
	}
	// Keep the existing credential object for unchanged refresh tokens:
	// in-flight releases hold pointers to it, so swapping it out would
	// orphan their active-count decrements.
	merged := make([]*Credential, 0, len(fresh))
	for _, c := range fresh {
		if old, ok := prev[c.RefreshToken]; ok {
			old.Record = c.Record
			merged = append(merged, old)
			continue
		}
		merged = append(merged, c)
	}
	m.creds = merged
	m.mu.Unlock()

	log.WithField("count", len(merged)).Info("credentials reloaded")
	m.notifyStats()
	return nil
}

// UpdateRemark sets the remark of the credential whose refresh token
// starts with prefix and persists the change.
func (m *Manager) UpdateRemark(prefix, remark string) error {
	m.mu.Lock()
	target, err := m.findByPrefixLocked(prefix)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	target.Remark = remark
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notifyStats()
	return m.store.SaveAll(snapshot)
}

// SetEnabled flips the enable flag of the matching credential and
// persists the change.
func (m *Manager) SetEnabled(prefix string, enabled bool) error {
	m.mu.Lock()
	target, err := m.findByPrefixLocked(prefix)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	target.Enable = &enabled
	if enabled {
		target.CooldownUntil = 0
		target.Consecutive429 = 0
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notifyStats()
	return m.store.SaveAll(snapshot)
}

// findByPrefixLocked resolves a token prefix to exactly one
// credential; two tokens sharing the prefix make the lookup ambiguous
// rather than silently targeting the first. A longer prefix, up to the
// full token, narrows the match.
func (m *Manager) findByPrefixLocked(prefix string) (*Credential, error) {
	var found *Credential
	for _, c := range m.creds {
		if strings.HasPrefix(c.RefreshToken, prefix) {
			if found != nil {
				return nil, ErrAmbiguousPrefix
			}
			found = c
		}
	}
	if found == nil {
		return nil, ErrCredentialNotFound
	}
	return found, nil
}

// snapshotLocked copies the slice header for handoff to the store; the
// store only reads the persisted Record fields.
func (m *Manager) snapshotLocked() []*Credential {
	out := make([]*Credential, len(m.creds))
	copy(out, m.creds)
	return out
}

func (m *Manager) notifyStats() {
	if m.onStatsChange != nil {
		m.onStatsChange()
	}
}
