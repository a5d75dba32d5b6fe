package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"financing-wizard/domain"
)

// Query parameters that carry the draft between pages.
const (
	ParamCalculation = "calculation"
	ParamRemoteID    = "id"
	ParamStep        = "step"
)

var errNoNavigationPayload = errors.New("sin cálculo en la navegación")

// navigationPayload is what the calculation param holds. A bare calculation
// coming straight from the calculator has no draft id nor timestamp.
type navigationPayload struct {
	DraftID     string                    `json:"draft_id,omitempty"`
	SavedAt     *time.Time                `json:"saved_at,omitempty"`
	Calculation *domain.CalculationResult `json:"calculation"`
}

// NavigationContext is the URL-borne channel of the draft: the query string
// the client carries from page to page.
type NavigationContext struct {
	mu     sync.Mutex
	values url.Values
}

func NewNavigationContext(query url.Values) *NavigationContext {
	values := url.Values{}
	for k, v := range query {
		values[k] = append([]string(nil), v...)
	}
	return &NavigationContext{values: values}
}

// Encode returns the query string the client must navigate with.
func (n *NavigationContext) Encode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.values.Encode()
}

// RemoteID returns the id of an existing remote application to resume.
func (n *NavigationContext) RemoteID() (int, bool) {
	n.mu.Lock()
	raw := n.values.Get(ParamRemoteID)
	n.mu.Unlock()

	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Step returns the wizard step carried in the URL, if it is a valid one.
func (n *NavigationContext) Step() (domain.Step, bool) {
	n.mu.Lock()
	raw := n.values.Get(ParamStep)
	n.mu.Unlock()

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	step := domain.Step(v)
	return step, step.Valid()
}

// payload decodes the calculation param. The value is tried as JSON first
// and, failing that, percent-decoded once more; both wrapped and bare
// calculations are accepted.
func (n *NavigationContext) payload() (navigationPayload, error) {
	n.mu.Lock()
	raw := n.values.Get(ParamCalculation)
	n.mu.Unlock()

	if raw == "" {
		return navigationPayload{}, errNoNavigationPayload
	}
	p, err := decodeNavigationPayload(raw)
	if err == nil {
		return p, nil
	}
	unescaped, uerr := url.QueryUnescape(raw)
	if uerr != nil {
		return navigationPayload{}, err
	}
	return decodeNavigationPayload(unescaped)
}

func decodeNavigationPayload(raw string) (navigationPayload, error) {
	var p navigationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return navigationPayload{}, fmt.Errorf("cálculo en la URL inválido: %w", err)
	}
	if p.Calculation == nil {
		var bare domain.CalculationResult
		if err := json.Unmarshal([]byte(raw), &bare); err != nil {
			return navigationPayload{}, fmt.Errorf("cálculo en la URL inválido: %w", err)
		}
		p = navigationPayload{Calculation: &bare}
	}
	if !p.Calculation.Valid() {
		return navigationPayload{}, fmt.Errorf("cálculo en la URL incompleto para la modalidad %q", p.Calculation.Mode)
	}
	if c := p.Calculation.Credit; c != nil && len(c.Schedule) == 0 {
		c.Schedule = RebuildSchedule(c)
	}
	return p, nil
}

// mirror writes the draft into the URL so a reload or a shared link restores it.
func (n *NavigationContext) mirror(d *domain.ApplicationDraft, savedAt time.Time) error {
	if d.Calculation == nil {
		n.mu.Lock()
		n.values.Del(ParamCalculation)
		n.values.Set(ParamStep, strconv.Itoa(int(d.CurrentStep)))
		n.mu.Unlock()
		return nil
	}
	// la tabla de amortización no viaja en la URL, se regenera al cargar
	calc := *d.Calculation
	if calc.Credit != nil {
		credit := *calc.Credit
		credit.Schedule = nil
		calc.Credit = &credit
	}
	env := navigationPayload{DraftID: d.ID, SavedAt: &savedAt, Calculation: &calc}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serializar navegación: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.values.Set(ParamCalculation, string(raw))
	n.values.Set(ParamStep, strconv.Itoa(int(d.CurrentStep)))
	if d.RemoteRequestID != nil {
		n.values.Set(ParamRemoteID, strconv.Itoa(*d.RemoteRequestID))
	}
	return nil
}

func (n *NavigationContext) clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.values.Del(ParamCalculation)
	n.values.Del(ParamRemoteID)
	n.values.Del(ParamStep)
}
