package storage

import (
	"sort"
	"sync"

	"github.com/pingcap/errors"
)

// ID identifies a storage. It is stable across restarts because it is part of every log record.
type ID uint64

var (
	ErrStorageExists   = errors.New("storage already exists")
	ErrStorageNotFound = errors.New("storage not found")
)

// Options are opaque bytes stored with a storage.
type Options struct {
	Payload []byte
}

// Storage is a named keyspace with its own index.
type Storage struct {
	ID      ID
	Name    string
	Options Options
	Index   *MemIndex
}

// Registry keeps the storages of an engine.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Storage
	byID   map[ID]*Storage
	nextID ID
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Storage),
		byID:   make(map[ID]*Storage),
		nextID: 1,
	}
}

// Create adds a storage with a fresh id.
func (r *Registry) Create(name string, opts Options) (*Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, errors.Annotatef(ErrStorageExists, "name %s", name)
	}
	return r.createLocked(r.nextID, name, opts), nil
}

// CreateWithID adds a storage with a known id, used while recovering.
func (r *Registry) CreateWithID(id ID, name string, opts Options) (*Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, errors.Annotatef(ErrStorageExists, "name %s", name)
	}
	if _, ok := r.byID[id]; ok {
		return nil, errors.Annotatef(ErrStorageExists, "id %d", id)
	}
	return r.createLocked(id, name, opts), nil
}

func (r *Registry) createLocked(id ID, name string, opts Options) *Storage {
	st := &Storage{ID: id, Name: name, Options: opts, Index: NewMemIndex()}
	r.byName[name] = st
	r.byID[id] = st
	if id >= r.nextID {
		r.nextID = id + 1
	}
	return st
}

// Delete removes a storage and returns it.
func (r *Registry) Delete(name string) (*Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byName[name]
	if !ok {
		return nil, errors.Annotatef(ErrStorageNotFound, "name %s", name)
	}
	delete(r.byName, name)
	delete(r.byID, st.ID)
	return st, nil
}

func (r *Registry) Get(name string) (*Storage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byName[name]
	if !ok {
		return nil, errors.Annotatef(ErrStorageNotFound, "name %s", name)
	}
	return st, nil
}

func (r *Registry) ByID(id ID) (*Storage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byID[id]
	return st, ok
}

// List returns the storage names in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Storages returns every storage ordered by id.
func (r *Registry) Storages() []*Storage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sts := make([]*Storage, 0, len(r.byID))
	for _, st := range r.byID {
		sts = append(sts, st)
	}
	sort.Slice(sts, func(i, j int) bool { return sts[i].ID < sts[j].ID })
	return sts
}
