package generator

import (
	"context"

	"github.com/stibe881/traumfunke/internal/domain"
)

// Starter wraps Client so trackers can hand it whole requests.
type Starter struct {
	Client Client
}

func (s Starter) Start(ctx context.Context, req domain.StoryRequest) error {
	in := StartRequest{
		RequestID: req.ID,
		UserID:    req.UserID,
		Title:     req.Title,
		Theme:     req.Theme,
		Language:  req.Language,
		IsEpisode: req.IsEpisode,
	}
	if req.SeriesID != nil {
		in.SeriesID = *req.SeriesID
	}
	return s.Client.Start(ctx, in)
}
