// Package store persists machine records. The primary backend is etcd;
// when no endpoints are configured or etcd is unreachable it falls back to
// a local JSON file so single-host setups work with zero infrastructure.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"vmforge/internal/logging"
	"vmforge/internal/machine"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const recordPrefix = "/vmforge/machines/"

// RecordStore persists machine records. Records are only ever written and
// listed by this core; teardown is an external operation.
type RecordStore interface {
	Save(ctx context.Context, rec *machine.Record) error
	Get(ctx context.Context, name string) (*machine.Record, bool, error)
	List(ctx context.Context) ([]*machine.Record, error)
	Close() error
}

// EtcdStore keeps records under a common key prefix in etcd.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore connects to etcd at the given endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// Save implements RecordStore.
func (s *EtcdStore) Save(ctx context.Context, rec *machine.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := s.client.Put(ctx, recordPrefix+rec.Name, string(data)); err != nil {
		return fmt.Errorf("failed to save record to etcd: %w", err)
	}
	return nil
}

// Get implements RecordStore.
func (s *EtcdStore) Get(ctx context.Context, name string) (*machine.Record, bool, error) {
	resp, err := s.client.Get(ctx, recordPrefix+name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get record from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	var rec machine.Record
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, true, nil
}

// List implements RecordStore.
func (s *EtcdStore) List(ctx context.Context) ([]*machine.Record, error) {
	resp, err := s.client.Get(ctx, recordPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list records from etcd: %w", err)
	}
	records := make([]*machine.Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec machine.Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", kv.Key, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Close implements RecordStore.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

// FileStore keeps all records in one local JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file-backed store at path. The file is created
// lazily on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]*machine.Record, error) {
	records := make(map[string]*machine.Record)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return records, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	return records, nil
}

func (s *FileStore) flush(records map[string]*machine.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Save implements RecordStore.
func (s *FileStore) Save(ctx context.Context, rec *machine.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return err
	}
	records[rec.Name] = rec
	return s.flush(records)
}

// Get implements RecordStore.
func (s *FileStore) Get(ctx context.Context, name string) (*machine.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return nil, false, err
	}
	rec, ok := records[name]
	return rec, ok, nil
}

// List implements RecordStore.
func (s *FileStore) List(ctx context.Context) ([]*machine.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]*machine.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close implements RecordStore.
func (s *FileStore) Close() error { return nil }

// NewStore picks the backend: etcd when endpoints are configured and
// reachable, the local file otherwise.
func NewStore(etcdEndpoints []string, statePath string) RecordStore {
	if len(etcdEndpoints) == 0 {
		logging.Logger().Debug("no etcd endpoints configured, using file store",
			zap.String("path", statePath))
		return NewFileStore(statePath)
	}

	etcdStore, err := NewEtcdStore(etcdEndpoints)
	if err != nil {
		logging.Logger().Warn("failed to connect to etcd, falling back to file store",
			zap.Error(err))
		return NewFileStore(statePath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := etcdStore.client.Get(ctx, recordPrefix); err != nil {
		logging.Logger().Warn("etcd unreachable, falling back to file store",
			zap.Error(err))
		_ = etcdStore.Close()
		return NewFileStore(statePath)
	}

	logging.Logger().Info("using etcd record store",
		zap.Strings("endpoints", etcdEndpoints))
	return etcdStore
}
