package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"financing-wizard/domain"
	"financing-wizard/repository"
)

// Cache key of the durable draft record, scoped per client session.
const draftCacheKey = "financing_calculation_data"

var ErrDraftNotFound = errors.New("no hay un cálculo de financiamiento para continuar")

// draftRecord is what the durable channel stores.
type draftRecord struct {
	SavedAt time.Time                `json:"saved_at"`
	Draft   *domain.ApplicationDraft `json:"draft"`
}

type DraftStoreOptions struct {
	// Freshness is how old a cached draft may be and still be restored.
	Freshness time.Duration
	// TTL bounds how long the cache keeps a record at all.
	TTL time.Duration
	// Plans tells a resumed application's product from its financing plan.
	Plans PlanTable
}

// DraftStore persists the draft of one client session across two channels:
// the navigation context and the durable cache.
type DraftStore struct {
	cache  repository.CacheRepository
	apps   repository.ApplicationRepository
	nav    *NavigationContext
	scope  string
	opts   DraftStoreOptions
	now    func() time.Time
	logger *logrus.Logger
}

func NewDraftStore(
	cache repository.CacheRepository,
	apps repository.ApplicationRepository,
	nav *NavigationContext,
	scope string,
	opts DraftStoreOptions,
	logger *logrus.Logger,
) *DraftStore {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultDraftFreshness
	}
	if nav == nil {
		nav = NewNavigationContext(nil)
	}
	if opts.Plans.ByDownPayment == nil {
		opts.Plans = DefaultPlanTable()
	}
	return &DraftStore{
		cache:  cache,
		apps:   apps,
		nav:    nav,
		scope:  scope,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

func (s *DraftStore) WithClock(now func() time.Time) *DraftStore {
	s.now = now
	return s
}

// Navigation exposes the URL channel so callers can hand it back to the client.
func (s *DraftStore) Navigation() *NavigationContext {
	return s.nav
}

func (s *DraftStore) key() string {
	return draftCacheKey + ":" + s.scope
}

// LoadInitial resolves the draft to work on, in order: a remote application
// id in the URL, an inline calculation in the URL, a fresh cached draft.
func (s *DraftStore) LoadInitial(ctx context.Context) (*domain.ApplicationDraft, error) {
	cached, cachedAt := s.loadCached(ctx)

	if id, ok := s.nav.RemoteID(); ok && s.apps != nil {
		draft, err := s.loadRemote(ctx, id)
		if err == nil {
			return s.mergeCachedLocal(draft, cached), nil
		}
		s.logger.WithError(err).WithField("remote_request_id", id).
			Warn("No se pudo recuperar la solicitud remota, se intenta con el cálculo local")
	}

	nav, err := s.nav.payload()
	switch {
	case err == nil:
		return s.resolveConflict(nav, cached, cachedAt), nil
	case !errors.Is(err, errNoNavigationPayload):
		s.logger.WithError(err).Warn("Cálculo en la URL ilegible, se ignora")
	}

	if cached != nil {
		if step, ok := s.nav.Step(); ok {
			cached.CurrentStep = reachableStep(cached, step)
		}
		return cached, nil
	}
	return nil, ErrDraftNotFound
}

// loadCached returns the cached draft when it is younger than the freshness
// threshold. Stale or unreadable records are discarded.
func (s *DraftStore) loadCached(ctx context.Context) (*domain.ApplicationDraft, time.Time) {
	raw, ok := s.cache.Get(ctx, s.key())
	if !ok {
		return nil, time.Time{}
	}
	var rec draftRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Draft == nil {
		s.logger.WithError(err).Warn("Borrador en caché corrupto, se descarta")
		_ = s.cache.Delete(ctx, s.key())
		return nil, time.Time{}
	}
	if s.now().Sub(rec.SavedAt) > s.opts.Freshness {
		s.logger.WithField("saved_at", rec.SavedAt).Info("Borrador en caché vencido, se descarta")
		_ = s.cache.Delete(ctx, s.key())
		return nil, time.Time{}
	}
	if !rec.Draft.CurrentStep.Valid() {
		rec.Draft.CurrentStep = domain.StepReview
	}
	return rec.Draft, rec.SavedAt
}

func (s *DraftStore) loadRemote(ctx context.Context, id int) (*domain.ApplicationDraft, error) {
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	draft, err := DraftFromRemote(app, s.opts.Plans, s.now())
	if err != nil {
		return nil, err
	}
	draft.ID = uuid.NewString()
	if step, ok := s.nav.Step(); ok {
		draft.CurrentStep = reachableStep(draft, step)
	}
	return draft, nil
}

// mergeCachedLocal keeps what only lives locally (staged files and how many
// of them the backend already has, consents, step) when the cache holds the
// same remote application.
func (s *DraftStore) mergeCachedLocal(remote, cached *domain.ApplicationDraft) *domain.ApplicationDraft {
	if cached == nil || cached.RemoteRequestID == nil || *cached.RemoteRequestID != *remote.RemoteRequestID {
		return remote
	}
	remote.ID = cached.ID
	remote.Attachments = cached.Attachments
	remote.UploadedCount = min(cached.UploadedCount, len(cached.Attachments))
	remote.TermsAccepted = cached.TermsAccepted
	remote.DataConsentAccepted = cached.DataConsentAccepted
	if _, ok := s.nav.Step(); !ok {
		remote.CurrentStep = cached.CurrentStep
	}
	return remote
}

// resolveConflict picks between the URL payload and the cached draft. The
// newer source wins; a payload without timestamp is a fresh calculation and
// always wins.
func (s *DraftStore) resolveConflict(
	nav navigationPayload,
	cached *domain.ApplicationDraft,
	cachedAt time.Time,
) *domain.ApplicationDraft {
	step, hasStep := s.nav.Step()

	if cached != nil && !sameCalculation(nav.Calculation, cached.Calculation) {
		navWins := nav.SavedAt == nil || nav.SavedAt.After(cachedAt)
		s.logger.WithFields(logrus.Fields{
			"draft_id":        cached.ID,
			"cached_at":       cachedAt,
			"navigation_at":   nav.SavedAt,
			"navigation_wins": navWins,
		}).Warn("Conflicto entre el cálculo de la URL y el borrador en caché")
		if !navWins {
			if hasStep {
				cached.CurrentStep = reachableStep(cached, step)
			}
			return cached
		}
	}

	var draft *domain.ApplicationDraft
	if cached != nil && nav.DraftID != "" && nav.DraftID == cached.ID {
		// mismo borrador: se conservan los datos personales y adjuntos
		draft = cached
		draft.Calculation = nav.Calculation
		if hasStep {
			draft.CurrentStep = reachableStep(draft, step)
		}
	} else {
		// borrador nuevo: empieza en la revisión aunque la URL traiga un paso
		draft = &domain.ApplicationDraft{
			ID:          nav.DraftID,
			CurrentStep: domain.StepReview,
			Calculation: nav.Calculation,
		}
		if draft.ID == "" {
			draft.ID = uuid.NewString()
		}
	}
	if !draft.CurrentStep.Valid() {
		draft.CurrentStep = domain.StepReview
	}
	return draft
}

// reachableStep caps a step taken from the URL at the first step whose gate
// the draft does not pass.
func reachableStep(d *domain.ApplicationDraft, step domain.Step) domain.Step {
	for s := domain.FirstStep; s < step; s++ {
		if validateStep(d, s) != nil {
			return s
		}
	}
	return step
}

// sameCalculation compares two results ignoring the amortization table,
// which the URL channel does not carry.
func sameCalculation(a, b *domain.CalculationResult) bool {
	return calculationFingerprint(a) == calculationFingerprint(b)
}

func calculationFingerprint(c *domain.CalculationResult) string {
	if c == nil {
		return ""
	}
	cp := *c
	if cp.Credit != nil {
		credit := *cp.Credit
		credit.Schedule = nil
		cp.Credit = &credit
	}
	raw, _ := json.Marshal(cp)
	return string(raw)
}

// Save writes the draft to both channels.
func (s *DraftStore) Save(ctx context.Context, draft *domain.ApplicationDraft) error {
	if draft == nil {
		return errors.New("borrador vacío")
	}
	savedAt := s.now().UTC()
	draft.UpdatedAt = savedAt

	raw, err := json.Marshal(draftRecord{SavedAt: savedAt, Draft: draft})
	if err != nil {
		return fmt.Errorf("serializar borrador: %w", err)
	}
	if err := s.cache.Set(ctx, s.key(), string(raw), s.opts.TTL); err != nil {
		return fmt.Errorf("guardar borrador: %w", err)
	}
	return s.nav.mirror(draft, savedAt)
}

// Clear removes the draft from both channels.
func (s *DraftStore) Clear(ctx context.Context) error {
	s.nav.clear()
	if err := s.cache.Delete(ctx, s.key()); err != nil {
		return fmt.Errorf("eliminar borrador: %w", err)
	}
	return nil
}
