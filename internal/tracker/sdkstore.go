package tracker

import (
	"context"
	"errors"
	"net/http"

	"github.com/stibe881/traumfunke/internal/domain"
	sdk "github.com/stibe881/traumfunke/sdk/go"
)

// SDKStore adapts the HTTP API client to the tracker's Store interface.
// The start endpoint does the durable claim and the pipeline invocation in
// one call, so SetFailed is a no-op here.
type SDKStore struct {
	Client *sdk.Client
}

func (s SDKStore) ListPending(ctx context.Context) ([]domain.StoryRequest, error) {
	items, err := s.Client.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]domain.StoryRequest, 0, len(items))
	for _, r := range items {
		res = append(res, fromSDK(r))
	}
	return res, nil
}

func (s SDKStore) CreateRequest(ctx context.Context, in NewRequest) (domain.StoryRequest, error) {
	created, err := s.Client.CreateRequest(ctx, sdk.CreateRequestInput{
		ID:        in.ID,
		ProfileID: in.ProfileID,
		Title:     in.Title,
		Theme:     in.Theme,
		Language:  in.Language,
		IsEpisode: in.IsEpisode,
		SeriesID:  in.SeriesID,
	})
	if err != nil {
		return domain.StoryRequest{}, err
	}
	return fromSDK(created), nil
}

func (s SDKStore) CancelRequest(ctx context.Context, id string) error {
	err := s.Client.CancelRequest(ctx, id)
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (s SDKStore) MarkStarted(ctx context.Context, id string) (bool, error) {
	res, err := s.Client.StartRequest(ctx, id)
	if err != nil {
		return false, err
	}
	return res.Started, nil
}

func (s SDKStore) SetFailed(ctx context.Context, id, message string) error {
	return nil
}

// NopStarter pairs with SDKStore: the start endpoint already invoked the
// pipeline when MarkStarted returned true.
type NopStarter struct{}

func (NopStarter) Start(ctx context.Context, req domain.StoryRequest) error { return nil }

func fromSDK(r sdk.StoryRequest) domain.StoryRequest {
	return domain.StoryRequest{
		ID:                  r.ID,
		UserID:              r.UserID,
		ProfileID:           r.ProfileID,
		Title:               r.Title,
		Theme:               r.Theme,
		Language:            r.Language,
		Status:              r.Status,
		ErrorMessage:        r.ErrorMessage,
		IsEpisode:           r.IsEpisode,
		EpisodeNumber:       r.EpisodeNumber,
		SeriesID:            r.SeriesID,
		GenerationStartedAt: r.GenerationStartedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}
