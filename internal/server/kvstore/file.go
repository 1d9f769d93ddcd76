package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/gofrs/flock"
)

// withLock holds the document's lock while fn runs. Seeded documents get
// their directory created; unseeded ones fail with ErrNotFound when it is
// missing.
func (f *File) withLock(ctx context.Context, fn func() error) error {
	dir := filepath.Dir(f.path)
	if f.seed == nil {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", f.path, common.ErrNotFound)
		}
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.store.lockTimeout)
	defer cancel()

	lock := flock.New(f.path + ".lock")
	ok, err := lock.TryLockContext(ctx, f.store.retryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: not acquired", f.path)
	}
	defer lock.Unlock()

	return fn()
}

func (f *File) readFile() (map[string]any, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return doc, nil
}

// write persists doc with revision prev+1 through a temp file and rename.
func (f *File) write(doc map[string]any, prev int64) error {
	doc[revisionKey] = prev + 1

	b, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func revisionOf(doc map[string]any) int64 {
	switch v := doc[revisionKey].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	}
	return 0
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshal keeps numbers as json.Number so integers survive a round trip.
func unmarshal(b []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(dst)
}

func convert(src any, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func toAny(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := unmarshal(b, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func toGeneric(v any) (map[string]any, error) {
	generic, err := toAny(v)
	if err != nil {
		return nil, err
	}
	if m, ok := generic.(map[string]any); ok {
		return m, nil
	}
	if generic == nil {
		return map[string]any{}, nil
	}
	return nil, errors.New("document must be a JSON object")
}
