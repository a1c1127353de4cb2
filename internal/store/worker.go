package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/harunnryd/etat/internal/config"
	etaterrors "github.com/harunnryd/etat/internal/errors"
)

// ErrStopped is returned for requests submitted after Stop.
var ErrStopped = errors.New("store worker stopped")

type Operation int

const (
	OpGetDataset Operation = iota
	OpPutDataset
	OpDeleteDataset
	OpListDatasets
	OpPruneDatasets
	OpGetSession
	OpSaveSession
	OpDeleteSession
	OpListSessions
	OpReset
)

func (o Operation) String() string {
	switch o {
	case OpGetDataset:
		return "get_dataset"
	case OpPutDataset:
		return "put_dataset"
	case OpDeleteDataset:
		return "delete_dataset"
	case OpListDatasets:
		return "list_datasets"
	case OpPruneDatasets:
		return "prune_datasets"
	case OpGetSession:
		return "get_session"
	case OpSaveSession:
		return "save_session"
	case OpDeleteSession:
		return "delete_session"
	case OpListSessions:
		return "list_sessions"
	case OpReset:
		return "reset"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type idPayload struct {
	ID string
}

type prunePayload struct {
	CachedBefore time.Time
}

// Worker owns the document database. Every read and write is executed by a
// single goroutine so the store behaves like one process-wide transaction queue.
type Worker struct {
	dataDir  string
	db       *gorm.DB
	inbox    chan Request
	fileLock *FileLock
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  stdatomic.Bool
}

type RuntimeConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
	InboxSize    int
}

func NewWorker(dataDir string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := ResolveDataDir(dataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", basePath, err)
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}

	// Single process per data dir
	fileLock, err := NewFileLock(basePath, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	dbPath, err := GetDatabasePath(basePath)
	if err != nil {
		fileLock.Unlock()
		return nil, err
	}
	db, err := OpenDB(dbPath)
	if err != nil {
		fileLock.Unlock()
		return nil, err
	}

	return &Worker{
		dataDir:  basePath,
		db:       db,
		inbox:    make(chan Request, runtimeCfg.InboxSize),
		fileLock: fileLock,
		quit:     make(chan struct{}),
	}, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Info("StoreWorker started", "data_dir", w.dataDir)
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			val, err := w.handle(req)
			if err != nil {
				slog.Debug("Store operation failed", "op", req.Op.String(), "error", err)
			}
			if req.Response != nil {
				req.Response <- val
			}
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Info("StoreWorker stopping")
			return
		}
	}
}

func (w *Worker) handle(req Request) (interface{}, error) {
	switch req.Op {
	case OpGetDataset:
		p, ok := req.Payload.(idPayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for GetDataset")
		}
		return w.getDataset(p.ID)
	case OpPutDataset:
		p, ok := req.Payload.(*DatasetEntry)
		if !ok || p == nil {
			return nil, fmt.Errorf("invalid payload for PutDataset")
		}
		return nil, w.putDataset(p)
	case OpDeleteDataset:
		p, ok := req.Payload.(idPayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for DeleteDataset")
		}
		return nil, w.db.Delete(&DatasetModel{}, "template_id = ?", p.ID).Error
	case OpListDatasets:
		return w.listDatasets()
	case OpPruneDatasets:
		p, ok := req.Payload.(prunePayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for PruneDatasets")
		}
		res := w.db.Where("cached_at < ?", p.CachedBefore).Delete(&DatasetModel{})
		return int(res.RowsAffected), res.Error
	case OpGetSession:
		p, ok := req.Payload.(idPayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for GetSession")
		}
		return w.getSession(p.ID)
	case OpSaveSession:
		p, ok := req.Payload.(*Session)
		if !ok || p == nil {
			return nil, fmt.Errorf("invalid payload for SaveSession")
		}
		return nil, w.saveSession(p)
	case OpDeleteSession:
		p, ok := req.Payload.(idPayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for DeleteSession")
		}
		return nil, w.db.Delete(&SessionModel{}, "id = ?", p.ID).Error
	case OpListSessions:
		return w.listSessions()
	case OpReset:
		return nil, w.reset()
	default:
		return nil, fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) getDataset(templateID string) (*DatasetEntry, error) {
	var m DatasetModel
	err := w.db.Where("template_id = ?", templateID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return datasetModelToDomain(m)
}

func (w *Worker) putDataset(e *DatasetEntry) error {
	m, err := domainToDatasetModel(e)
	if err != nil {
		return err
	}
	return w.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (w *Worker) listDatasets() ([]*DatasetEntry, error) {
	var models []DatasetModel
	if err := w.db.Order("template_id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*DatasetEntry, 0, len(models))
	for _, m := range models {
		e, err := datasetModelToDomain(m)
		if err != nil {
			slog.Warn("Skipping corrupt dataset entry", "template_id", m.TemplateID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (w *Worker) getSession(id string) (*Session, error) {
	var m SessionModel
	err := w.db.Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sessionModelToDomain(m)
}

func (w *Worker) saveSession(s *Session) error {
	m, err := domainToSessionModel(s)
	if err != nil {
		return err
	}
	return w.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (w *Worker) listSessions() ([]*Session, error) {
	var models []SessionModel
	if err := w.db.Order("last_active_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(models))
	for _, m := range models {
		s, err := sessionModelToDomain(m)
		if err != nil {
			slog.Warn("Skipping corrupt session document", "session", m.ID, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (w *Worker) reset() error {
	return w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM sessions").Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM reference_datasets").Error
	})
}

// submit hands a request to the loop and waits for its outcome.
func (w *Worker) submit(ctx context.Context, op Operation, payload interface{}) (interface{}, error) {
	req := Request{
		Op:       op,
		Payload:  payload,
		Result:   make(chan error, 1),
		Response: make(chan interface{}, 1),
	}

	stopped := etaterrors.WrapWithCategory(ErrStopped, op.String(), etaterrors.ErrStorage)
	select {
	case <-w.quit:
		return nil, stopped
	default:
	}

	select {
	case w.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, stopped
	}

	select {
	case err := <-req.Result:
		val := <-req.Response
		if err != nil {
			if errors.Is(err, etaterrors.ErrStorageCorrupt) {
				return nil, err
			}
			return nil, etaterrors.WrapWithCategory(err, op.String(), etaterrors.ErrStorage)
		}
		return val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, stopped
	}
}

// Public API for other components

// GetDataset returns the cached entry, or (nil, nil) when none exists.
func (w *Worker) GetDataset(ctx context.Context, templateID string) (*DatasetEntry, error) {
	val, err := w.submit(ctx, OpGetDataset, idPayload{ID: templateID})
	if err != nil {
		return nil, err
	}
	entry, _ := val.(*DatasetEntry)
	return entry, nil
}

func (w *Worker) PutDataset(ctx context.Context, entry *DatasetEntry) error {
	_, err := w.submit(ctx, OpPutDataset, entry)
	return err
}

func (w *Worker) DeleteDataset(ctx context.Context, templateID string) error {
	_, err := w.submit(ctx, OpDeleteDataset, idPayload{ID: templateID})
	return err
}

func (w *Worker) ListDatasets(ctx context.Context) ([]*DatasetEntry, error) {
	val, err := w.submit(ctx, OpListDatasets, nil)
	if err != nil {
		return nil, err
	}
	return val.([]*DatasetEntry), nil
}

// PruneDatasets drops cache entries cached before the cutoff and returns how many went.
func (w *Worker) PruneDatasets(ctx context.Context, cachedBefore time.Time) (int, error) {
	val, err := w.submit(ctx, OpPruneDatasets, prunePayload{CachedBefore: cachedBefore})
	if err != nil {
		return 0, err
	}
	return val.(int), nil
}

// GetSession returns the stored document, or (nil, nil) when none exists.
func (w *Worker) GetSession(ctx context.Context, id string) (*Session, error) {
	val, err := w.submit(ctx, OpGetSession, idPayload{ID: id})
	if err != nil {
		return nil, err
	}
	sess, _ := val.(*Session)
	return sess, nil
}

func (w *Worker) SaveSession(ctx context.Context, session *Session) error {
	_, err := w.submit(ctx, OpSaveSession, session.Clone())
	return err
}

func (w *Worker) DeleteSession(ctx context.Context, id string) error {
	_, err := w.submit(ctx, OpDeleteSession, idPayload{ID: id})
	return err
}

func (w *Worker) ListSessions(ctx context.Context) ([]*Session, error) {
	val, err := w.submit(ctx, OpListSessions, nil)
	if err != nil {
		return nil, err
	}
	return val.([]*Session), nil
}

// Reset empties both collections.
func (w *Worker) Reset(ctx context.Context) error {
	_, err := w.submit(ctx, OpReset, nil)
	return err
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		slog.Info("StoreWorker Stop called", "data_dir", w.dataDir, "lock_held", w.fileLock.IsLocked())

		close(w.quit)
		w.wg.Wait()

		if sqlDB, err := w.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Warn("Failed to close document database", "error", err)
			}
		}

		if w.fileLock.IsLocked() {
			w.fileLock.Unlock()
		}
	})
}

func (w *Worker) DataDir() string {
	return w.dataDir
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
