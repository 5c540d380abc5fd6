package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"backoffice/internal/domain"
	"backoffice/internal/logging"
	"backoffice/internal/terminal"
)

// ─────────────────────────────────────────────────────────────
// Row Edit Service — dataset rows in the user's editor
// ─────────────────────────────────────────────────────────────

// RowEditOptions configure the editor session.
type RowEditOptions struct {
	Command string
	Args    []string
	// Input is forwarded to the editor as keystrokes; Output receives its
	// screen. Both may be nil for editors that need no terminal.
	Input   io.Reader
	Output  io.Writer
	Cols    uint16
	Rows    uint16
	TempDir string
}

// RowEditResult is the outcome of an editor session.
type RowEditResult struct {
	Row     *domain.DatasetRow `json:"row"`
	Changed bool               `json:"changed"`
}

// RowEditService opens a dataset row as JSON in an editor, reports saves
// while the editor runs, and stores the final contents when it exits.
type RowEditService struct {
	datasets *DatasetService
	emitter  EventEmitter
	logger   *zap.Logger
	opts     RowEditOptions
	editing  keyGuard

	refresher DatasetRefresher
}

// NewRowEditService creates a RowEditService.
func NewRowEditService(datasets *DatasetService, emitter EventEmitter, logger *zap.Logger, opts RowEditOptions) *RowEditService {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &RowEditService{
		datasets: datasets,
		emitter:  orNop(emitter),
		logger:   logging.OrNop(logger).Named("row-edit"),
		opts:     opts,
	}
}

// SetRefresher wires the grid sessions reloaded after a saved edit.
func (s *RowEditService) SetRefresher(r DatasetRefresher) { s.refresher = r }

// EditRow blocks until the editor exits. The row is saved only when the
// file holds a JSON object that differs from the original.
func (s *RowEditService) EditRow(ctx context.Context, rowID string) (*RowEditResult, error) {
	release, since, ok := s.editing.Acquire(rowID)
	if !ok {
		return nil, fmt.Errorf("row %s is already open in an editor (since %s)", rowID, since.Format(time.TimeOnly))
	}
	defer release()

	row, err := s.datasets.GetRow(rowID)
	if err != nil {
		return nil, err
	}
	original := stripID(row.Data)

	path, err := s.writeTemp(rowID, original)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	log := s.logger.With(zap.String("rowId", rowID), zap.String("file", path))

	watcher, err := terminal.NewWatcher(func(key string, content []byte) {
		data, err := decodeRowJSON(content)
		if err != nil {
			log.Debug("ignoring partial save", zap.Error(err))
			return
		}
		s.emitter.Emit(ctx, EventRowChanged, map[string]any{
			"rowId":     key,
			"datasetId": row.DatasetID,
			"data":      data,
		})
	}, s.logger)
	if err != nil {
		return nil, err
	}
	defer watcher.Close()
	if err := watcher.Watch(rowID, path); err != nil {
		return nil, fmt.Errorf("watch row file: %w", err)
	}

	editor := terminal.New(terminal.Options{
		Command: s.opts.Command,
		Args:    s.opts.Args,
		Output:  s.opts.Output,
		Cols:    s.opts.Cols,
		Rows:    s.opts.Rows,
		Logger:  s.logger,
	})
	if err := editor.OpenFile(path); err != nil {
		return nil, err
	}
	if s.opts.Input != nil {
		go func() { _, _ = io.Copy(editor, s.opts.Input) }()
	}

	select {
	case <-editor.Done():
	case <-ctx.Done():
		editor.Close()
		<-editor.Done()
		return nil, ctx.Err()
	}
	if err := editor.Wait(); err != nil {
		return nil, fmt.Errorf("editor exited: %w", err)
	}
	watcher.Unwatch(rowID)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read row file: %w", err)
	}
	data, err := decodeRowJSON(content)
	if err != nil {
		return nil, err
	}
	if cmp.Equal(original, data) {
		log.Debug("row unchanged")
		return &RowEditResult{Row: row}, nil
	}

	updated, err := s.datasets.UpdateRow(ctx, rowID, data)
	if err != nil {
		return nil, err
	}
	log.Info("row saved")
	if s.refresher != nil {
		if err := s.refresher.RefreshDataset(ctx, updated.DatasetID); err != nil {
			log.Warn("refresh grids", zap.Error(err))
		}
	}
	return &RowEditResult{Row: updated, Changed: true}, nil
}

func (s *RowEditService) writeTemp(rowID string, data map[string]any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	if err := os.MkdirAll(s.opts.TempDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(s.opts.TempDir, "row-"+rowID+".json")
	if err := os.WriteFile(path, append(b, '\n'), 0600); err != nil {
		return "", fmt.Errorf("write row file: %w", err)
	}
	return path, nil
}

func decodeRowJSON(content []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("row file is not valid JSON: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("row file must hold a JSON object")
	}
	return data, nil
}
