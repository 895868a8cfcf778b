package badger

import "log/slog"

// Open opens (or creates) a Badger database in dir and returns a repository
// that closes the database when it is closed.
func Open(dir string, logger *slog.Logger) (*Repository, error) {
	return openOwned(dir, false, logger)
}

// NewMemoryRepository returns a repository over a fresh in-memory database.
// Intended for tests.
func NewMemoryRepository() (*Repository, error) {
	return openOwned("", true, nil)
}

func openOwned(dir string, inMemory bool, logger *slog.Logger) (*Repository, error) {
	backend, err := OpenBackend(dir, inMemory, logger)
	if err != nil {
		return nil, err
	}

	repo, err := NewRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	repo.owned = true
	return repo, nil
}
