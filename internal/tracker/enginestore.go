package tracker

import (
	"context"

	"github.com/stibe881/traumfunke/internal/domain"
	"github.com/stibe881/traumfunke/internal/engine"
)

// EngineStore adapts a local engine to the tracker's Store interface. Used
// when the tracker runs in the same process as the request store.
type EngineStore struct {
	Engine engine.Engine
	UserID string
}

func (s EngineStore) ListPending(ctx context.Context) ([]domain.StoryRequest, error) {
	return s.Engine.ListPending(ctx, s.UserID)
}

func (s EngineStore) CreateRequest(ctx context.Context, in NewRequest) (domain.StoryRequest, error) {
	return s.Engine.CreateRequest(ctx, engine.CreateRequestInput{
		ID:        in.ID,
		UserID:    s.UserID,
		ProfileID: in.ProfileID,
		Title:     in.Title,
		Theme:     in.Theme,
		Language:  in.Language,
		IsEpisode: in.IsEpisode,
		SeriesID:  in.SeriesID,
	})
}

func (s EngineStore) CancelRequest(ctx context.Context, id string) error {
	return s.Engine.CancelRequest(ctx, id, s.UserID)
}

func (s EngineStore) MarkStarted(ctx context.Context, id string) (bool, error) {
	return s.Engine.MarkGenerationStarted(ctx, id)
}

func (s EngineStore) SetFailed(ctx context.Context, id, message string) error {
	_, err := s.Engine.UpdateRequestStatus(ctx, id, domain.StatusFailed, &message)
	return err
}
