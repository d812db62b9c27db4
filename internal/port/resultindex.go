package port

import "github.com/bnema/celluloid/internal/domain"

type ResultIndex interface {
	Put(entry domain.ResultEntry) error
	Get(externalID, jobID string) (*domain.ResultEntry, error)
	FindByJob(jobID string) (*domain.ResultEntry, error)
	// List returns every entry when externalID is empty.
	List(externalID string) ([]domain.ResultEntry, error)
	Delete(externalID, jobID string) error
}
