package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/foodgrid/server/internal/data/catalog"
	"github.com/foodgrid/server/internal/grid"
	"github.com/foodgrid/server/internal/render"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrSessionNotFound is returned for unknown or evicted canvas sessions.
var ErrSessionNotFound = errors.New("canvas session not found")

// CanvasServiceConfig contains canvas session settings.
type CanvasServiceConfig struct {
	Grid        grid.Config
	Debounce    time.Duration
	MaxSessions int
	Catalog     *CatalogService
	Renderer    *render.Renderer
}

// Session is one user's canvas: a tracker, the loader feeding it and the
// active browse mode.
type Session struct {
	ID        string
	CreatedAt time.Time

	loader *grid.Loader

	mu       sync.Mutex
	filter   catalog.Filter
	seed     int64
	viewport grid.Viewport
}

// Mode returns the session's current filter and seed.
func (s *Session) Mode() (catalog.Filter, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter, s.seed
}

// Viewport returns the last viewport reported for the session.
func (s *Session) Viewport() grid.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// Tracker returns the session's occupancy tracker.
func (s *Session) Tracker() *grid.Tracker {
	return s.loader.Tracker()
}

// SessionView is the state of a session as seen through a viewport.
type SessionView struct {
	SessionID  string           `json:"session_id"`
	Range      grid.Range       `json:"range"`
	Placements []grid.Placement `json:"placements"`
	Placed     int              `json:"placed"`
	Stats      grid.Stats       `json:"stats"`
	Filter     catalog.Filter   `json:"filter"`
	Seed       int64            `json:"seed"`
}

// CanvasService owns the canvas sessions.
type CanvasService struct {
	cfg      CanvasServiceConfig
	sessions *lru.Cache[string, *Session]
}

// NewCanvasService creates the session registry. Evicted sessions have their
// loader closed.
func NewCanvasService(cfg CanvasServiceConfig) (*CanvasService, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewRenderer(render.Config{})
	}
	sessions, err := lru.NewWithEvict[string, *Session](cfg.MaxSessions, func(id string, s *Session) {
		// Close waits for in-flight fetches; keep it off the cache lock.
		go s.loader.Close()
		log.Debug("canvas session closed", "session", id)
	})
	if err != nil {
		return nil, err
	}
	return &CanvasService{cfg: cfg, sessions: sessions}, nil
}

// Create opens a session browsing the products matching f. A zero seed picks
// a random one.
func (c *CanvasService) Create(f catalog.Filter, seed int64) *Session {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		filter:    f,
		seed:      seed,
	}
	s.loader = grid.NewLoader(grid.LoaderConfig{
		Tracker:  grid.NewTracker(c.cfg.Grid),
		Source:   c.cfg.Catalog.Source(f, seed),
		Debounce: c.cfg.Debounce,
	})
	c.sessions.Add(s.ID, s)
	return s
}

// Get returns a live session.
func (c *CanvasService) Get(id string) (*Session, error) {
	s, ok := c.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (c *CanvasService) Len() int {
	return c.sessions.Len()
}

// UpdateViewport validates and records vp, then fills its unfilled cells. With wait set, it
// blocks until the batch is applied or ctx ends; otherwise the fill is
// debounced and the current state is returned immediately.
func (c *CanvasService) UpdateViewport(ctx context.Context, id string, vp grid.Viewport, wait bool) (*SessionView, error) {
	if err := vp.Validate(); err != nil {
		return nil, err
	}
	s, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()

	placed := 0
	if !wait {
		s.loader.OnViewportChange(vp)
	} else if p := s.loader.Fill(vp); p != nil {
		switch err := p.Wait(ctx); {
		case err == nil:
			placed = len(p.Placements())
		case !errors.Is(err, grid.ErrStale):
			// Timeouts and source failures still report the current state.
			log.Debug("canvas fill incomplete", "session", id, "err", err)
		}
	}

	view := c.view(s, vp)
	view.Placed = placed
	return view, nil
}

// View returns the session as seen through its last viewport.
func (c *CanvasService) View(id string) (*SessionView, error) {
	s, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return c.view(s, s.Viewport()), nil
}

func (c *CanvasService) view(s *Session, vp grid.Viewport) *SessionView {
	tr := s.Tracker()
	rng := tr.VisibleRange(vp)
	all := tr.Placements()
	visible := make([]grid.Placement, 0, len(all))
	for _, p := range all {
		if rng.Contains(p.Cell) {
			visible = append(visible, p)
		}
	}
	f, seed := s.Mode()
	return &SessionView{
		SessionID:  s.ID,
		Range:      rng,
		Placements: visible,
		Stats:      tr.Stats(),
		Filter:     f,
		Seed:       seed,
	}
}

// SetMode switches the session to a new filter. Scheduled and in-flight
// fills are dropped and the canvas starts empty.
func (c *CanvasService) SetMode(id string, f catalog.Filter, seed int64) (*SessionView, error) {
	s, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.mu.Lock()
	s.filter = f
	s.seed = seed
	s.mu.Unlock()

	s.loader.ResetForModeChange(c.cfg.Catalog.Source(f, seed))
	return c.view(s, s.Viewport()), nil
}

// Snapshot renders the session's occupancy around its last viewport.
func (c *CanvasService) Snapshot(id string, by render.ColorBy) ([]byte, error) {
	s, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	tr := s.Tracker()
	return c.cfg.Renderer.Snapshot(tr.VisibleRange(s.Viewport()), tr.Placements(), by)
}

// Delete closes and forgets a session.
func (c *CanvasService) Delete(id string) error {
	if !c.sessions.Remove(id) {
		return ErrSessionNotFound
	}
	return nil
}

// Close closes every session.
func (c *CanvasService) Close() {
	for _, id := range c.sessions.Keys() {
		if s, ok := c.sessions.Peek(id); ok {
			s.loader.Close()
		}
	}
	c.sessions.Purge()
}
