package colbot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	storeBackendGoogleDocs = "google_docs"
	storeBackendRedis      = "redis"
	storeBackendDatabase   = "database"
	storeBackendFile       = "file"
	storeBackendMemory     = "memory"
)

const saveFailedMessage = "❌ Failed to save the pending level list. Please try again."

// Backend is a whole-document blob store. Get returns (nil, nil) when
// the document doesn't exist yet.
type Backend interface {
	Name() string
	Get(ctx context.Context) ([]byte, error)
	Put(ctx context.Context, data []byte) error
}

// Store loads and saves the full Registry.
//
// Load never fails: an absent, corrupt or unreachable document yields
// an empty registry (and an error log). Save reports failures.
type Store interface {
	Load(ctx context.Context) *Registry
	Save(ctx context.Context, reg *Registry) error
}

// Gateway is the Store used by the bot. It reads from and writes to a
// primary Backend, and falls back to a local Backend when the primary
// is unset or fails.
//
// A failed primary write is still copied to the fallback, but the
// failure is returned to the caller.
type Gateway struct {
	primary  Backend
	fallback Backend
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration
}

// NewGateway returns a Gateway. primary may be nil, in which case the
// fallback is authoritative.
func NewGateway(
	primary Backend,
	fallback Backend,
	logger *slog.Logger,
	metrics *Metrics,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
		timeout:  DefaultStoreOperationTimeout,
	}
}

// BackendName returns the name of the authoritative backend
func (g *Gateway) BackendName() string {
	switch {
	case g.primary != nil:
		return g.primary.Name()
	case g.fallback != nil:
		return g.fallback.Name()
	default:
		return "none"
	}
}

// SetOperationTimeout sets the timeout applied to backend calls made
// without a deadline. Zero disables it.
func (g *Gateway) SetOperationTimeout(d time.Duration) {
	g.timeout = d
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) Load(ctx context.Context) *Registry {
	logger := contextLogger(ctx, g.logger)

	if g.primary != nil {
		reg, err := g.loadFrom(ctx, g.primary)
		if err == nil {
			return reg
		}
		logger.ErrorContext(
			ctx,
			"error loading levels from primary store",
			"backend", g.primary.Name(),
			tint.Err(err),
		)
	}

	if g.fallback != nil {
		reg, err := g.loadFrom(ctx, g.fallback)
		if err == nil {
			return reg
		}
		logger.ErrorContext(
			ctx,
			"error loading levels from fallback store",
			"backend", g.fallback.Name(),
			tint.Err(err),
		)
	}

	logger.WarnContext(ctx, "no readable store, using an empty level list")
	return NewRegistry()
}

func (g *Gateway) loadFrom(ctx context.Context, b Backend) (*Registry, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	data, err := b.Get(ctx)
	g.metrics.observeStore(b.Name(), "get", err)
	if err != nil {
		return nil, err
	}
	reg, err := DecodeRegistry(data)
	if err != nil {
		return nil, err
	}
	g.metrics.setPending(reg.Len())
	return reg, nil
}

func (g *Gateway) Save(ctx context.Context, reg *Registry) error {
	logger := contextLogger(ctx, g.logger)

	data, err := reg.Encode()
	if err != nil {
		return newWorkflowError(ErrPersistence, saveFailedMessage, err)
	}

	if g.primary == nil {
		if g.fallback == nil {
			return newWorkflowError(
				ErrPersistence,
				saveFailedMessage,
				errors.New("no store backend configured"),
			)
		}
		if err = g.put(ctx, g.fallback, data); err != nil {
			logger.ErrorContext(
				ctx,
				"error saving levels",
				"backend", g.fallback.Name(),
				tint.Err(err),
			)
			return newWorkflowError(ErrPersistence, saveFailedMessage, err)
		}
		g.metrics.setPending(reg.Len())
		return nil
	}

	err = g.put(ctx, g.primary, data)
	if err == nil {
		g.metrics.setPending(reg.Len())
		return nil
	}
	logger.ErrorContext(
		ctx,
		"error saving levels to primary store",
		"backend", g.primary.Name(),
		tint.Err(err),
	)

	if g.fallback != nil {
		if fbErr := g.put(ctx, g.fallback, data); fbErr != nil {
			logger.ErrorContext(
				ctx,
				"error saving levels to fallback store",
				"backend", g.fallback.Name(),
				tint.Err(fbErr),
			)
		} else {
			if g.metrics != nil {
				g.metrics.StoreFallbackWrite.Inc()
			}
			logger.WarnContext(
				ctx,
				"saved levels to fallback store",
				"backend", g.fallback.Name(),
			)
		}
	}
	return newWorkflowError(ErrPersistence, saveFailedMessage, err)
}

func (g *Gateway) put(ctx context.Context, b Backend, data []byte) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	err := b.Put(ctx, data)
	g.metrics.observeStore(b.Name(), "put", err)
	return err
}

// Ledger serializes load-mutate-save cycles against a Store, so two
// concurrent commands can't overwrite each other's changes.
type Ledger struct {
	store Store
	mu    sync.RWMutex
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Update loads the registry, applies fn and saves the result. Nothing
// is saved if fn returns an error.
func (l *Ledger) Update(ctx context.Context, fn func(reg *Registry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reg := l.store.Load(ctx)
	if err := fn(reg); err != nil {
		return err
	}
	return l.store.Save(ctx, reg)
}

// View loads the current registry for reading
func (l *Ledger) View(ctx context.Context) *Registry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.Load(ctx)
}

// FileBackend stores the registry document in a local file
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (FileBackend) Name() string {
	return storeBackendFile
}

func (f *FileBackend) Get(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading %s: %w", f.path, err)
	}
	return data, nil
}

// Put writes to a temp file and renames it over the target, so readers
// never see a partial document
func (f *FileBackend) Put(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error writing %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("error replacing %s: %w", f.path, err)
	}
	return nil
}

// MemoryBackend keeps the document in memory. GetErr and PutErr, when
// set, are returned instead of performing the operation.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	GetErr error
	PutErr error
	puts   int
}

func NewMemoryBackend(initial []byte) *MemoryBackend {
	return &MemoryBackend{data: initial}
}

func (*MemoryBackend) Name() string {
	return storeBackendMemory
}

func (m *MemoryBackend) Get(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryBackend) Put(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.data = append([]byte(nil), data...)
	m.puts++
	return nil
}

// Data returns a copy of the stored document
func (m *MemoryBackend) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Puts returns the number of successful writes
func (m *MemoryBackend) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Closer is implemented by backends holding connections
type Closer interface {
	Close() error
}

// OpenGateway builds the configured backends and returns a Gateway
// over them, along with any backends the caller has to close.
func OpenGateway(
	ctx context.Context,
	cfg *StoreConfig,
	logger *slog.Logger,
	httpClient *http.Client,
	metrics *Metrics,
) (*Gateway, []Closer, error) {
	primary, fallback, err := NewStoreBackends(ctx, cfg, logger, httpClient)
	if err != nil {
		return nil, nil, err
	}
	var closers []Closer
	for _, backend := range []Backend{primary, fallback} {
		if c, ok := backend.(Closer); ok {
			closers = append(closers, c)
		}
	}
	g := NewGateway(primary, fallback, logger, metrics)
	g.SetOperationTimeout(cfg.OperationTimeout)
	return g, closers, nil
}

// NewStoreBackends builds the primary and fallback backends for the
// given config. The primary is nil for the 'file' and 'memory' backends.
func NewStoreBackends(
	ctx context.Context,
	cfg *StoreConfig,
	logger *slog.Logger,
	httpClient *http.Client,
) (primary Backend, fallback Backend, err error) {
	switch cfg.Backend {
	case storeBackendMemory:
		return nil, NewMemoryBackend(nil), nil
	case storeBackendFile, "":
		return nil, NewFileBackend(cfg.LocalPath), nil
	case storeBackendGoogleDocs:
		if cfg.Google.DocumentID == "" {
			return nil, nil, errors.New("store.google.document_id is required for the google_docs backend")
		}
		service, svcErr := newGoogleDocsService(ctx, cfg.Google, httpClient)
		if svcErr != nil {
			return nil, nil, svcErr
		}
		primary = NewGoogleDocBackend(
			service,
			cfg.Google.DocumentID,
			cfg.Google.RequestsPerSecond,
		)
	case storeBackendRedis:
		if cfg.Redis.URL == "" {
			return nil, nil, errors.New("store.redis.url is required for the redis backend")
		}
		rb, rErr := NewRedisBackend(ctx, cfg.Redis.URL, cfg.Redis.Key)
		if rErr != nil {
			return nil, nil, rErr
		}
		primary = rb
	case storeBackendDatabase:
		db, dbErr := CreateDB(ctx, cfg.Database, logger)
		if dbErr != nil {
			return nil, nil, fmt.Errorf("error opening database: %w", dbErr)
		}
		primary = NewDatabaseBackend(db, cfg.Database.Type, cfg.Database.DocumentName)
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %q", cfg.Backend)
	}
	return primary, NewFileBackend(cfg.LocalPath), nil
}
