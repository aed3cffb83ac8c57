package refdata

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Service holds the current catalog and hot-reloads it when the backing
// file changes. Readers always see a complete catalog; a reload that
// fails to parse keeps the previous one.
type Service struct {
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	current *Catalog
	running bool
}

// NewService loads the catalog once. Call Watch to enable hot reload.
func NewService(path string, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[refdata] ", log.LstdFlags)
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Service{
		path:    path,
		logger:  logger,
		done:    make(chan struct{}),
		current: c,
	}, nil
}

// Catalog returns the currently loaded catalog.
func (s *Service) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch starts watching the catalog file's directory for changes.
// Watching the directory rather than the file survives editors and
// deploy scripts that replace the file by rename.
func (s *Service) Watch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("refdata watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	s.watcher = watcher
	s.running = true
	s.wg.Add(1)
	go s.processEvents()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	if err := s.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	s.wg.Wait()
	return nil
}

func (s *Service) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !s.relevant(event) {
				continue
			}
			s.reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("watch error: %v", err)
		}
	}
}

func (s *Service) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(s.path) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (s *Service) reload() {
	c, err := Load(s.path)
	if err != nil {
		s.logger.Printf("reload failed, keeping previous catalog: %v", err)
		return
	}

	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
	s.logger.Printf("reloaded catalog: %d branches", len(c.Branches))
}
