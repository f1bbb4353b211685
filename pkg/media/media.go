// Package media describes the image hosting collaborator used for meal
// pictures and profile photos.
package media

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Disabled for every upload.
var ErrDisabled = errors.New("media storage is not configured")

// Object is what the core keeps about a stored binary.
type Object struct {
	URL       string `json:"url"`
	StorageID string `json:"storageId"`
}

// File is an uploaded binary waiting to be stored.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Store uploads binaries into a folder and deletes them by storage id.
type Store interface {
	Upload(ctx context.Context, folder, filename, contentType string, data []byte) (Object, error)
	Destroy(ctx context.Context, storageID string) error
}

// Disabled rejects uploads and treats deletes as done.
type Disabled struct{}

func (Disabled) Upload(context.Context, string, string, string, []byte) (Object, error) {
	return Object{}, ErrDisabled
}

func (Disabled) Destroy(context.Context, string) error { return nil }
