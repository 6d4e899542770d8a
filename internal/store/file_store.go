package store

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v2"
	"moff.io/moff-wallet/pkg/errors"
)

// fileStore keeps every value in one yaml document, rewritten on each change.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) Store {
	return &fileStore{path: path}
}

func (f *fileStore) load() (map[string]string, error) {
	values := map[string]string{}
	data, err := ioutil.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, errors.Wrap(err, "read store file")
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "decode store file")
	}
	return values, nil
}

func (f *fileStore) save(values map[string]string) error {
	data, err := yaml.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "encode store file")
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create store dir")
		}
	}
	tmp := f.path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write store file")
	}
	return errors.Wrap(os.Rename(tmp, f.path), "replace store file")
}

func (f *fileStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

func (f *fileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *fileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}
