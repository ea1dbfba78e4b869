package client

import (
	"context"
	"io"

	"github.com/dmitrijs2005/filevault/internal/client/models"
)

type Client interface {
	Ping(ctx context.Context) error
	CreateSession(ctx context.Context, name string, password []byte) error
	UseSession(name string)
	RefreshSession(ctx context.Context) error
	SessionValid(ctx context.Context, name string) (bool, error)
	DeleteSession(ctx context.Context) error
	InitStore(ctx context.Context) error
	ListFiles(ctx context.Context) ([]*models.File, error)
	ListTags(ctx context.Context) ([]string, error)
	UploadFile(ctx context.Context, r io.Reader, u models.Upload) (string, error)
	Download(ctx context.Context, fileID string) (*models.Download, error)
	DeleteFile(ctx context.Context, fileID string) error
}
