package repository

import (
	"context"
	"errors"

	"financing-wizard/domain"
)

var ErrApplicationNotFound = errors.New("solicitud no encontrada")

// ApplicationRepository is the remote store of financing applications.
// Credentials travel in the context (see backend.WithSession).
type ApplicationRepository interface {
	Get(ctx context.Context, id int) (domain.RemoteApplication, error)
	Create(ctx context.Context, payload domain.WirePayload) (int, error)
	Update(ctx context.Context, id int, payload domain.WirePayload) error
	UploadDocuments(ctx context.Context, id int, files []domain.StagedFile) error
	Submit(ctx context.Context, id int) error
}
