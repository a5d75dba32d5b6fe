package http

import (
	"sync"
	"time"

	"financing-wizard/service"
)

type wizardEntry struct {
	wizard   *service.Wizard
	lastSeen time.Time
}

// WizardSessions keeps the live wizard of every client session. Idle
// wizards are dropped; their draft survives in the cache and is restored on
// the next request.
type WizardSessions struct {
	mu          sync.Mutex
	idle        time.Duration
	entries     map[string]*wizardEntry
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewWizardSessions(idle time.Duration) *WizardSessions {
	s := &WizardSessions{
		idle:        idle,
		entries:     make(map[string]*wizardEntry),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *WizardSessions) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *WizardSessions) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if now.Sub(e.lastSeen) > s.idle {
			delete(s.entries, id)
		}
	}
}

func (s *WizardSessions) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *WizardSessions) get(id string) (*service.Wizard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.now()
	return e.wizard, true
}

func (s *WizardSessions) put(id string, w *service.Wizard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = &wizardEntry{wizard: w, lastSeen: s.now()}
}

func (s *WizardSessions) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}
