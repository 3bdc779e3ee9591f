package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mchmarny/regretguard/pkg/feature"
	"github.com/mchmarny/regretguard/pkg/score"
	"github.com/mchmarny/regretguard/pkg/vault"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFlagged is returned when deferring a purchase that was not assessed as high risk.
	ErrNotFlagged = errors.New("only high risk purchases can be moved to the vault")

	// ErrMissingContext is returned when submit carries no transaction context.
	ErrMissingContext = errors.New("submit requires a transaction context")
)

// Scorer scores a single transaction context.
type Scorer interface {
	Score(c feature.Context) (*score.Assessment, error)
}

// Request is a single user action with its payload.
type Request struct {
	Action  Action           `json:"action" yaml:"action"`
	Item    string           `json:"item,omitempty" yaml:"item,omitempty"`
	Context *feature.Context `json:"context,omitempty" yaml:"context,omitempty"`
}

// Summary aggregates what happened during the session.
type Summary struct {
	Assessments int             `json:"assessments" yaml:"assessments"`
	Flagged     int             `json:"flagged" yaml:"flagged"`
	Accepted    int             `json:"accepted" yaml:"accepted"`
	Deferred    int             `json:"deferred" yaml:"deferred"`
	VaultItems  int             `json:"vault_items" yaml:"vault_items"`
	VaultTotal  decimal.Decimal `json:"vault_total" yaml:"vault_total"`
}

// View is the session snapshot returned after every action.
type View struct {
	ID         string            `json:"id" yaml:"id"`
	State      State             `json:"state" yaml:"state"`
	Actions    []Action          `json:"actions" yaml:"actions"`
	Assessment *score.Assessment `json:"assessment,omitempty" yaml:"assessment,omitempty"`
	Vault      []vault.Entry     `json:"vault" yaml:"vault"`
	Summary    Summary           `json:"summary" yaml:"summary"`
}

// Session carries the per-user state passed to every handler: the navigation
// state, the last assessment and the cooling vault.
type Session struct {
	mu      sync.Mutex
	id      string
	scorer  Scorer
	vault   *vault.Vault
	state   State
	last    *score.Assessment
	item    string
	summary Summary
}

// New starts a session in the home state.
func New(s Scorer) *Session {
	return &Session{
		id:     uuid.NewString(),
		scorer: s,
		vault:  vault.New(),
		state:  StateHome,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current navigation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Vault returns the session's cooling vault.
func (s *Session) Vault() *vault.Vault {
	return s.vault
}

// Apply runs one action to completion. On error the state is left unchanged.
func (s *Session) Apply(r Request) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Dispatch(s.state, r.Action)
	if err != nil {
		return nil, err
	}

	switch r.Action {
	case ActionSubmit:
		if r.Context == nil {
			return nil, ErrMissingContext
		}
		a, err := s.scorer.Score(*r.Context)
		if err != nil {
			return nil, fmt.Errorf("scoring transaction: %w", err)
		}
		s.last = a
		s.item = r.Item
		s.summary.Assessments++
		if a.HighRisk() {
			s.summary.Flagged++
		}
	case ActionDefer:
		if !s.last.HighRisk() {
			return nil, ErrNotFlagged
		}
		item := r.Item
		if item == "" {
			item = s.item
		}
		e := s.vault.Add(item, s.last.Context.Price, s.last.RegretScore)
		s.summary.Deferred++
		slog.Debug("purchase deferred", "id", e.ID, "item", e.Item, "amount", e.Amount.String())
	case ActionAccept:
		s.summary.Accepted++
	case ActionClearVault:
		s.vault.Clear()
	case ActionStartCheckout:
		s.last = nil
		s.item = ""
	}

	slog.Debug("session transition", "session", s.id, "from", s.state, "action", r.Action, "to", next)
	s.state = next
	return s.view(), nil
}

// Snapshot returns the current view without changing state.
func (s *Session) Snapshot() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// ClearVault empties the vault without changing the navigation state.
func (s *Session) ClearVault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vault.Clear()
}

func (s *Session) view() *View {
	sum := s.summary
	sum.VaultItems = s.vault.Len()
	sum.VaultTotal = s.vault.Total()
	return &View{
		ID:         s.id,
		State:      s.state,
		Actions:    Allowed(s.state),
		Assessment: s.last,
		Vault:      s.vault.Items(),
		Summary:    sum,
	}
}
