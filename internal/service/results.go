package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/port"
	"github.com/bnema/celluloid/internal/validation"
)

// Results writes detection artifacts under the output directory and records
// them in the results index. A result_ref is the artifact path relative to
// the output directory, always with forward slashes.
type Results struct {
	index     port.ResultIndex
	outputDir string
	now       func() time.Time
}

func NewResults(index port.ResultIndex, outputDir string) *Results {
	return &Results{
		index:     index,
		outputDir: outputDir,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Save stores the artifact of job and indexes it. It returns the result_ref.
func (r *Results) Save(job *domain.Job, artifact []byte) (string, error) {
	now := r.now()
	segment := validation.SanitizeSegment(job.ExternalID, "_")
	name := fmt.Sprintf("detections_%s_%s.json", job.ID, now.Format("20060102_150405"))

	dir := filepath.Join(r.outputDir, segment)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}

	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, artifact, 0644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write results: %w", err)
	}

	ref := segment + "/" + name
	entry := domain.ResultEntry{
		ExternalID: job.ExternalID,
		JobID:      job.ID,
		ResultRef:  ref,
		CreatedAt:  now,
	}
	if err := r.index.Put(entry); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("index results: %w", err)
	}

	logger.Info.Printf("results stored: job=%s, ref=%s, bytes=%d", job.ID, logger.SanitizeForLog(ref), len(artifact))
	return ref, nil
}

// Discard drops the index entry and artifact written by Save for a job whose
// completion could not be recorded.
func (r *Results) Discard(job *domain.Job, ref string) error {
	if err := r.index.Delete(job.ExternalID, job.ID); err != nil {
		return err
	}
	path, err := r.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove results: %w", err)
	}
	return nil
}

func (r *Results) Get(externalID, jobID string) (*domain.ResultEntry, error) {
	return r.index.Get(externalID, jobID)
}

func (r *Results) FindByJob(jobID string) (*domain.ResultEntry, error) {
	return r.index.FindByJob(jobID)
}

func (r *Results) List(externalID string) ([]domain.ResultEntry, error) {
	return r.index.List(externalID)
}

// Path resolves a result_ref to a file inside the output directory.
func (r *Results) Path(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if ref == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: invalid result reference", domain.ErrNotFound)
	}
	return filepath.Join(r.outputDir, clean), nil
}

// Read returns the stored artifact for ref.
func (r *Results) Read(ref string) ([]byte, error) {
	path, err := r.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, domain.ErrNotFound
	}
	return data, err
}
