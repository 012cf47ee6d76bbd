// Package sessionresolver implements session identity resolution and
// compaction: the five-branch session-binding algorithm, the
// effective-research-profile derivation, and the two compaction
// strategies.
package sessionresolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evrenesat/asky/corekit/errs"
	"github.com/evrenesat/asky/historystore"
	"github.com/evrenesat/asky/pkg/models"
	"github.com/google/uuid"
)

// Resolver runs the five-branch resolution algorithm.
type Resolver struct {
	store  *historystore.Store
	locker *ShellLocker
}

// AmbiguousResumeError carries the candidate sessions a resume term matched,
// so callers (the Turn Orchestrator) can populate TurnResult.Notices without
// re-querying the store themselves.
type AmbiguousResumeError struct {
	Term       string
	Candidates []*models.Session
}

func (e *AmbiguousResumeError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Name
	}
	return fmt.Sprintf("resume term %q matches %s", e.Term, strings.Join(names, ", "))
}

func (e *AmbiguousResumeError) Unwrap() error { return errs.ErrAmbiguousResume }

// New constructs a Resolver over store, with shell-sticky locks rooted at
// lockDir.
func New(store *historystore.Store, lockDir string) *Resolver {
	return &Resolver{store: store, locker: NewShellLocker(lockDir)}
}

// Resolve runs the branch algorithm against the request's session selector
// fields: sticky name, resume term, shell binding, continue ids, stateless
// — in that priority order.
func (r *Resolver) Resolve(ctx context.Context, req models.TurnRequest) (models.SessionResolution, *models.Session, error) {
	sel := req.Session

	switch {
	case sel.StickySessionName != "":
		return r.resolveSticky(ctx, sel.StickySessionName)
	case sel.ResumeSessionTerm != "":
		return r.resolveResume(ctx, sel.ResumeSessionTerm)
	case sel.ShellSessionID != "":
		return r.resolveShellSticky(ctx, sel.ShellSessionID)
	case sel.ContinueIDs != "":
		return models.SessionResolution{Bound: false, Branch: "continue_ids"}, nil, nil
	default:
		return models.SessionResolution{Bound: false, Branch: "stateless"}, nil, nil
	}
}

// resolveSticky implements branch 1: create a session by sticky name if one
// doesn't already exist by that name.
func (r *Resolver) resolveSticky(ctx context.Context, name string) (models.SessionResolution, *models.Session, error) {
	existing, err := r.findByExactName(ctx, name)
	if err != nil {
		return models.SessionResolution{}, nil, err
	}
	if existing != nil {
		return models.SessionResolution{SessionID: existing.ID, Bound: true, Branch: "sticky_create"}, existing, nil
	}

	session := &models.Session{
		ID:         uuid.New().String(),
		Name:       name,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}
	if err := r.store.Create(ctx, session); err != nil {
		return models.SessionResolution{}, nil, fmt.Errorf("create sticky session: %w", err)
	}
	return models.SessionResolution{SessionID: session.ID, Bound: true, Branch: "sticky_create"}, session, nil
}

// resolveResume implements branch 2: lookup by id, then exact name, then
// partial name; ambiguous partial matches halt with a candidate list.
func (r *Resolver) resolveResume(ctx context.Context, term string) (models.SessionResolution, *models.Session, error) {
	if session, err := r.store.Get(ctx, term); err == nil {
		return models.SessionResolution{SessionID: session.ID, Bound: true, Branch: "resume"}, session, nil
	}

	if session, err := r.findByExactName(ctx, term); err != nil {
		return models.SessionResolution{}, nil, err
	} else if session != nil {
		return models.SessionResolution{SessionID: session.ID, Bound: true, Branch: "resume"}, session, nil
	}

	candidates, err := r.findByPartialName(ctx, term)
	if err != nil {
		return models.SessionResolution{}, nil, err
	}
	switch len(candidates) {
	case 0:
		return models.SessionResolution{}, nil, fmt.Errorf("no session matches resume term %q", term)
	case 1:
		return models.SessionResolution{SessionID: candidates[0].ID, Bound: true, Branch: "resume"}, candidates[0], nil
	default:
		return models.SessionResolution{}, nil, &AmbiguousResumeError{Term: term, Candidates: candidates}
	}
}

// resolveShellSticky implements branch 3: bind to the session associated
// with a still-valid shell session id, creating the binding on first use.
func (r *Resolver) resolveShellSticky(ctx context.Context, shellSessionID string) (models.SessionResolution, *models.Session, error) {
	if sessionID, ok := r.locker.Valid(shellSessionID); ok {
		session, err := r.store.Get(ctx, sessionID)
		if err == nil {
			return models.SessionResolution{SessionID: session.ID, Bound: true, Branch: "shell_sticky"}, session, nil
		}
	}

	session := &models.Session{ID: uuid.New().String(), CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := r.store.Create(ctx, session); err != nil {
		return models.SessionResolution{}, nil, fmt.Errorf("create shell-sticky session: %w", err)
	}
	if _, _, err := r.locker.Bind(shellSessionID, session.ID); err != nil {
		return models.SessionResolution{}, nil, fmt.Errorf("bind shell lock: %w", err)
	}
	return models.SessionResolution{SessionID: session.ID, Bound: true, Branch: "shell_sticky"}, session, nil
}

// findByExactName scans historystore's session list for an exact name match;
// historystore has no dedicated name index, so this relies on ListSessions
// scanning the (expected to be small) sessions table.
func (r *Resolver) findByExactName(ctx context.Context, name string) (*models.Session, error) {
	sessions, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

func (r *Resolver) findByPartialName(ctx context.Context, term string) ([]*models.Session, error) {
	sessions, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*models.Session
	lowerTerm := strings.ToLower(term)
	for _, s := range sessions {
		if strings.Contains(strings.ToLower(s.Name), lowerTerm) {
			matches = append(matches, s)
		}
	}
	return matches, nil
}

func (r *Resolver) listAll(ctx context.Context) ([]*models.Session, error) {
	return r.store.ListSessions(ctx)
}

// EffectiveResearchProfile derives the profile that applies to a turn:
// explicit request overrides take precedence over the persisted session
// profile. Passing new corpus pointers on an existing research session
// replaces, never appends to, the stored pointer list.
func EffectiveResearchProfile(session *models.Session, req models.TurnRequest) (researchMode bool, sourceMode models.ResearchSourceMode, pointers []string) {
	researchMode = session != nil && session.ResearchMode
	sourceMode = models.ResearchSourceNone
	if session != nil {
		sourceMode = session.ResearchSourceMode
		pointers = session.ResearchCorpusPointers
	}

	if req.ResearchModeOverride != nil {
		researchMode = *req.ResearchModeOverride
	}
	if req.ResearchSourceOverride != "" {
		sourceMode = req.ResearchSourceOverride
	}
	if len(req.ResearchCorpusPointers) > 0 {
		pointers = req.ResearchCorpusPointers
	}

	if !researchMode {
		sourceMode = ""
	} else if sourceMode == "" {
		sourceMode = models.ResearchSourceMixed
	}
	return researchMode, sourceMode, pointers
}
