package services

import (
	"github.com/AbdelrhmanX7/memorly-server/repositories"
	"github.com/AbdelrhmanX7/memorly-server/storage"
)

type Container struct {
	Upload  UploadService
	Cleanup CleanupService
}

func NewContainer(repos repositories.Container, store storage.ObjectStore) *Container {
	return &Container{
		Upload:  NewUploadService(repos.TxManager, repos.Users, repos.Sessions, repos.Parts, repos.MediaFiles, repos.PartProgress, store),
		Cleanup: NewCleanupService(repos.Sessions, repos.Parts, repos.PartProgress, store),
	}
}
