// Package store implements the in-memory registry that maps toolchain
// components to the license and log files collected for them while a
// build runs. The publisher reads it back when assembling a distribution.
package store

import (
	"errors"
	"sort"
	"sync"
)

var ErrComponentUnknown = errors.New("store: component not registered")

// Record holds the files collected for one component.
type Record struct {
	Version  string
	Licenses []string
	Logs     []string
}

type Registry struct {
	lock    sync.Mutex
	records map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// Register adds a component with its version. Re-registering is a no-op
// so a resumed run may safely repeat collection.
func (r *Registry) Register(name, version string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.records[name]; !ok {
		r.records[name] = &Record{Version: version}
	}
}

// AddLicense records a collected license file path for a component.
func (r *Registry) AddLicense(name, path string) error {
	return r.append(name, path, func(rec *Record, p string) {
		rec.Licenses = appendUnique(rec.Licenses, p)
	})
}

// AddLog records a build log path for a component.
func (r *Registry) AddLog(name, path string) error {
	return r.append(name, path, func(rec *Record, p string) {
		rec.Logs = appendUnique(rec.Logs, p)
	})
}

// Component returns a copy of the record for the named component.
func (r *Registry) Component(name string) (Record, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return Record{}, ErrComponentUnknown
	}
	out := Record{Version: rec.Version}
	out.Licenses = append(out.Licenses, rec.Licenses...)
	out.Logs = append(out.Logs, rec.Logs...)
	return out, nil
}

// Components returns the registered component names in sorted order.
func (r *Registry) Components() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) append(name, path string, add func(*Record, string)) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return ErrComponentUnknown
	}
	add(rec, path)
	return nil
}

func appendUnique(paths []string, p string) []string {
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}
