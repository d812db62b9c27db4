package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/port"
)

const stderrTailLines = 5

// Runner drives an external detection program. The program receives the
// video reference, the similarity threshold and an output path, reports
// progress as JSON lines on stdout and writes its results document to the
// output path.
type Runner struct {
	command string
	args    []string
	workDir string
}

func NewRunner(command string, args []string, workDir string) *Runner {
	return &Runner{
		command: command,
		args:    args,
		workDir: workDir,
	}
}

type progressLine struct {
	Progress *float64       `json:"progress"`
	Counters map[string]any `json:"counters"`
}

func (r *Runner) Run(ctx context.Context, req domain.PipelineRequest, progress port.ProgressFunc) (*domain.PipelineResult, error) {
	if err := os.MkdirAll(r.workDir, 0755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	out, err := os.CreateTemp(r.workDir, "detections-"+req.JobID+"-*.json")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()
	defer os.Remove(outPath) //nolint:errcheck

	args := append([]string{}, r.args...)
	args = append(args,
		"--video", req.VideoURL,
		"--threshold", strconv.FormatFloat(req.SimilarityThreshold, 'f', -1, 64),
		"--output", outPath,
		"--job-id", req.JobID,
	)
	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = filepath.Dir(outPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach stdout: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailLines}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.command, err)
	}

	// stdout must be drained before Wait.
	last := readProgress(stdout, req.JobID, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := stderr.String(); msg != "" {
			return nil, errors.New(msg)
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(r.command), err)
	}

	artifact, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	if !json.Valid(artifact) {
		return nil, errors.New("pipeline wrote an invalid results document")
	}

	counters := extractCounters(artifact)
	for k, v := range last {
		if _, ok := counters[k]; !ok {
			counters[k] = v
		}
	}
	return &domain.PipelineResult{Artifact: artifact, Counters: counters}, nil
}

// readProgress consumes stdout until EOF and returns the last counters seen.
func readProgress(r io.Reader, jobID string, progress port.ProgressFunc) map[string]any {
	var last map[string]any
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		var p progressLine
		if len(line) == 0 || line[0] != '{' || json.Unmarshal(line, &p) != nil || p.Progress == nil {
			logger.Debug.Printf("pipeline[%s]: %s", jobID, logger.Truncate(logger.SanitizeForLog(string(line)), 500))
			continue
		}
		if p.Counters != nil {
			last = p.Counters
		}
		if progress != nil {
			progress(*p.Progress, p.Counters)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn.Printf("pipeline[%s]: read stdout: %v", jobID, err)
		_, _ = io.Copy(io.Discard, r)
	}
	return last
}

// extractCounters pulls the summary counters out of metadata.processing.
func extractCounters(artifact []byte) map[string]any {
	var doc struct {
		Metadata struct {
			Processing struct {
				FramesProcessed      *float64 `json:"frames_processed"`
				FramesWithDetections *float64 `json:"frames_with_detections"`
				DurationSeconds      *float64 `json:"duration_seconds"`
				DetectionStatistics  struct {
					TotalDetections *float64 `json:"total_detections"`
				} `json:"detection_statistics"`
			} `json:"processing"`
		} `json:"metadata"`
	}
	counters := map[string]any{}
	if err := json.Unmarshal(artifact, &doc); err != nil {
		return counters
	}

	p := doc.Metadata.Processing
	set := func(key string, v *float64) {
		if v != nil {
			counters[key] = *v
		}
	}
	set("frames_processed", p.FramesProcessed)
	set("frames_with_detections", p.FramesWithDetections)
	set("total_detections", p.DetectionStatistics.TotalDetections)
	set("processing_time", p.DurationSeconds)
	return counters
}

// tailBuffer keeps the last max lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  string
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	parts := strings.Split(b.part+string(p), "\n")
	b.part = parts[len(parts)-1]
	for _, l := range parts[:len(parts)-1] {
		if l = strings.TrimSpace(l); l != "" {
			b.lines = append(b.lines, l)
		}
	}
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := b.lines
	if p := strings.TrimSpace(b.part); p != "" {
		lines = append(append([]string{}, lines...), p)
		if len(lines) > b.max {
			lines = lines[len(lines)-b.max:]
		}
	}
	return strings.Join(lines, "\n")
}

var _ port.Pipeline = (*Runner)(nil)
