package httpapi

import (
	"context"

	"streamd/internal/events"
	"streamd/internal/session"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Ready() bool
	Load(ctx context.Context, req types.LoadRequest, onProgress func(float64)) error
	Unload() error
	Generate(ctx context.Context, prompt string, em events.Emitter) (types.GenerateResponse, error)
	Stop()
	History() []types.Message
	ClearHistory() error
	Stats() (types.GenerationStats, bool)
}

// ModelLister supplies GET /models.
type ModelLister interface {
	List() []types.Model
}

// SessionService serves the API from a session.Manager.
type SessionService struct {
	mgr    *session.Manager
	models ModelLister
	// DefaultTools are enabled when a load request names none.
	DefaultTools []string
}

var _ Service = (*SessionService)(nil)

// NewSessionService adapts mgr for NewMux. models may be nil.
func NewSessionService(mgr *session.Manager, models ModelLister) *SessionService {
	return &SessionService{mgr: mgr, models: models}
}

func (s *SessionService) ListModels() []types.Model {
	if s.models == nil {
		return nil
	}
	return s.models.List()
}

func (s *SessionService) Status() types.StatusResponse { return s.mgr.Status() }
func (s *SessionService) Ready() bool                  { return s.mgr.Ready() }

// Load enables the named built-in tools and loads req.ModelID.
func (s *SessionService) Load(ctx context.Context, req types.LoadRequest, onProgress func(float64)) error {
	names := req.Tools
	if names == nil {
		names = s.DefaultTools
	}
	defs, err := tools.SelectBuiltins(names)
	if err != nil {
		return err
	}
	return s.mgr.Load(ctx, req.ModelID, session.LoadOptions{
		SystemPrompt:   req.SystemPrompt,
		Tools:          defs,
		InitialHistory: req.History,
		Stateless:      req.Stateless,
		OnProgress:     onProgress,
	})
}

func (s *SessionService) Unload() error { return s.mgr.Unload() }

func (s *SessionService) Generate(ctx context.Context, prompt string, em events.Emitter) (types.GenerateResponse, error) {
	res, err := s.mgr.Turn(ctx, prompt, em)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{Content: res.Content, Stats: res.Stats}, nil
}

func (s *SessionService) Stop()                                { s.mgr.Stop() }
func (s *SessionService) History() []types.Message             { return s.mgr.History() }
func (s *SessionService) ClearHistory() error                  { return s.mgr.ClearHistory() }
func (s *SessionService) Stats() (types.GenerationStats, bool) { return s.mgr.LastGenerationStats() }
