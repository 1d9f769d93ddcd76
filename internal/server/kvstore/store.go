// Package kvstore is a durable JSON document store addressed by
// hierarchical keys such as "accounts//alice@example.com//password".
//
// Every logical file is an independent JSON document. Nothing is cached:
// each call reads the file again, and every mutation is a read-modify-write
// performed under an advisory file lock so that concurrent writers, in this
// process or another one, never lose each other's updates. Each write bumps
// a "_revision" counter which callers can use for compare-and-swap.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/common"
)

// Separator joins key segments. It cannot appear inside a segment.
const Separator = "//"

const revisionKey = "_revision"

// Key joins segments into a store key.
func Key(segments ...string) string {
	return strings.Join(segments, Separator)
}

func splitKey(key string) []string {
	return strings.Split(key, Separator)
}

// Store hands out File handles that share lock settings.
type Store struct {
	lockTimeout time.Duration
	retryDelay  time.Duration
}

type Option func(*Store)

// WithLockTimeout bounds how long a mutation waits for the file lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{lockTimeout: 5 * time.Second, retryDelay: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// File returns a handle on the document at path. When the document does not
// exist it is created from seed on first access; a nil seed means the
// document is never created implicitly and reads fail with ErrNotFound.
func (s *Store) File(path string, seed any) *File {
	return &File{store: s, path: path, seed: seed}
}

// File is a single JSON document.
type File struct {
	store *Store
	path  string
	seed  any
}

func (f *File) Path() string { return f.path }

// Exists reports whether the document is present on disk.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Set stores value under key, creating intermediate objects as needed.
func (f *File) Set(ctx context.Context, key string, value any) error {
	generic, err := toAny(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	return f.mutate(ctx, func(doc map[string]any) (bool, error) {
		segments := splitKey(key)
		parent, err := walk(doc, segments[:len(segments)-1], true)
		if err != nil {
			return false, fmt.Errorf("set %q: %w", key, err)
		}
		parent[segments[len(segments)-1]] = generic
		return true, nil
	})
}

// Get returns the raw JSON stored under key, or ErrNotFound when any
// segment is missing.
func (f *File) Get(ctx context.Context, key string) (json.RawMessage, error) {
	doc, err := f.read(ctx)
	if err != nil {
		return nil, err
	}

	segments := splitKey(key)
	parent, err := walk(doc, segments[:len(segments)-1], false)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	value, ok := parent[segments[len(segments)-1]]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, common.ErrNotFound)
	}
	return marshal(value)
}

// Lookup decodes the value under key into dst. It reports false, leaving dst
// untouched, when the key is absent; this is how callers supply a default.
func (f *File) Lookup(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := f.Get(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Delete removes key and reports whether it existed.
func (f *File) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := f.mutate(ctx, func(doc map[string]any) (bool, error) {
		segments := splitKey(key)
		parent, err := walk(doc, segments[:len(segments)-1], false)
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		last := segments[len(segments)-1]
		if _, existed = parent[last]; existed {
			delete(parent, last)
		}
		return existed, nil
	})
	return existed, err
}

// LoadAll decodes the whole document into dst and returns its revision.
func (f *File) LoadAll(ctx context.Context, dst any) (int64, error) {
	doc, err := f.read(ctx)
	if err != nil {
		return 0, err
	}
	rev := revisionOf(doc)
	delete(doc, revisionKey)
	if err := convert(doc, dst); err != nil {
		return 0, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return rev, nil
}

// Fill replaces the whole document with doc.
func (f *File) Fill(ctx context.Context, doc any) error {
	generic, err := toGeneric(doc)
	if err != nil {
		return err
	}
	return f.withLock(ctx, func() error {
		rev := int64(0)
		if current, err := f.readFile(); err == nil {
			rev = revisionOf(current)
		}
		return f.write(generic, rev)
	})
}

// Update loads the document into dst, calls fn, and writes dst back, all
// under the file lock. Returning an error from fn aborts without writing.
func (f *File) Update(ctx context.Context, dst any, fn func() error) error {
	return f.mutate(ctx, func(doc map[string]any) (bool, error) {
		delete(doc, revisionKey)
		if err := convert(doc, dst); err != nil {
			return false, fmt.Errorf("decode %s: %w", f.path, err)
		}
		if err := fn(); err != nil {
			return false, err
		}
		updated, err := toGeneric(dst)
		if err != nil {
			return false, err
		}
		clear(doc)
		for k, v := range updated {
			doc[k] = v
		}
		return true, nil
	})
}

// Swap writes doc only if the stored revision still equals rev.
func (f *File) Swap(ctx context.Context, rev int64, doc any) error {
	generic, err := toGeneric(doc)
	if err != nil {
		return err
	}
	return f.withLock(ctx, func() error {
		current, err := f.loadOrSeed()
		if err != nil {
			return err
		}
		if got := revisionOf(current); got != rev {
			return fmt.Errorf("%s: have %d, want %d: %w", f.path, got, rev, common.ErrRevisionConflict)
		}
		return f.write(generic, rev)
	})
}

// mutate runs fn on the current document under lock and persists it when
// fn reports a change.
func (f *File) mutate(ctx context.Context, fn func(doc map[string]any) (bool, error)) error {
	return f.withLock(ctx, func() error {
		doc, err := f.loadOrSeed()
		if err != nil {
			return err
		}
		rev := revisionOf(doc)
		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		return f.write(doc, rev)
	})
}

// read returns the current document, seeding it first if needed.
func (f *File) read(ctx context.Context) (map[string]any, error) {
	doc, err := f.readFile()
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return doc, err
	}
	if f.seed == nil {
		return nil, fmt.Errorf("%s: %w", f.path, common.ErrNotFound)
	}
	err = f.withLock(ctx, func() error {
		doc, err = f.loadOrSeed()
		return err
	})
	return doc, err
}

// loadOrSeed must be called with the lock held.
func (f *File) loadOrSeed() (map[string]any, error) {
	doc, err := f.readFile()
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return doc, err
	}
	if f.seed == nil {
		return nil, fmt.Errorf("%s: %w", f.path, common.ErrNotFound)
	}
	doc, err = toGeneric(f.seed)
	if err != nil {
		return nil, err
	}
	if err := f.write(doc, -1); err != nil {
		return nil, err
	}
	return f.readFile()
}

func walk(doc map[string]any, segments []string, create bool) (map[string]any, error) {
	current := doc
	for _, seg := range segments {
		next, ok := current[seg]
		if !ok || next == nil {
			if !create {
				return nil, common.ErrNotFound
			}
			child := map[string]any{}
			current[seg] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q is not an object", seg)
		}
		current = child
	}
	return current, nil
}
