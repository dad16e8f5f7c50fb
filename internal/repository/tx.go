package repository

import (
	"context"

	"pickem/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
)

// Tx is the read-then-write surface available inside a unit of work.
// Find methods return ErrNotFound when no row matches.
type Tx interface {
	FindCompetitor(ctx context.Context, key models.ExternalKey) (*models.Competitor, error)
	InsertCompetitor(ctx context.Context, c *models.Competitor) error
	UpdateCompetitor(ctx context.Context, c *models.Competitor) error

	FindEvent(ctx context.Context, key models.ExternalKey) (*models.Event, error)
	InsertEvent(ctx context.Context, e *models.Event) error
	UpdateEvent(ctx context.Context, e *models.Event) error

	ListParticipants(ctx context.Context, eventID int64) ([]*models.EventParticipant, error)
	InsertParticipant(ctx context.Context, p *models.EventParticipant) error
	UpdateParticipant(ctx context.Context, p *models.EventParticipant) error
	DeleteParticipant(ctx context.Context, id int64) error
}

// unitOfWork binds the repositories to one pgx transaction
type unitOfWork struct {
	competitors *CompetitorRepository
	events      *EventRepository
}

func newUnitOfWork(tx pgx.Tx) *unitOfWork {
	return &unitOfWork{
		competitors: &CompetitorRepository{q: tx},
		events:      &EventRepository{q: tx},
	}
}

func (u *unitOfWork) FindCompetitor(ctx context.Context, key models.ExternalKey) (*models.Competitor, error) {
	return u.competitors.GetByExternalID(ctx, key)
}

func (u *unitOfWork) InsertCompetitor(ctx context.Context, c *models.Competitor) error {
	return u.competitors.Create(ctx, c)
}

func (u *unitOfWork) UpdateCompetitor(ctx context.Context, c *models.Competitor) error {
	return u.competitors.Update(ctx, c)
}

func (u *unitOfWork) FindEvent(ctx context.Context, key models.ExternalKey) (*models.Event, error) {
	return u.events.GetByExternalID(ctx, key)
}

func (u *unitOfWork) InsertEvent(ctx context.Context, e *models.Event) error {
	return u.events.Create(ctx, e)
}

func (u *unitOfWork) UpdateEvent(ctx context.Context, e *models.Event) error {
	return u.events.Update(ctx, e)
}

func (u *unitOfWork) ListParticipants(ctx context.Context, eventID int64) ([]*models.EventParticipant, error) {
	return u.events.ListParticipants(ctx, eventID)
}

func (u *unitOfWork) InsertParticipant(ctx context.Context, p *models.EventParticipant) error {
	return u.events.CreateParticipant(ctx, p)
}

func (u *unitOfWork) UpdateParticipant(ctx context.Context, p *models.EventParticipant) error {
	return u.events.UpdateParticipant(ctx, p)
}

func (u *unitOfWork) DeleteParticipant(ctx context.Context, id int64) error {
	return u.events.DeleteParticipant(ctx, id)
}
