package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semcontext/graph"
)

// BucketGraphs holds one merged entity graph per document.
const BucketGraphs = "SEMCONTEXT_GRAPHS"

// GraphRecord is the stored entity graph of one document.
type GraphRecord struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	Graph      *graph.Graph `json:"graph"`
	Report     graph.Report `json:"report"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// keyValue is the subset of jetstream.KeyValue the graph store uses.
type keyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// GraphStore stores extracted entity graphs in NATS KV.
type GraphStore struct {
	kv keyValue
}

// NewGraphStore opens the graphs bucket, creating it if needed.
func NewGraphStore(ctx context.Context, js jetstream.JetStream) (*GraphStore, error) {
	kv, err := getOrCreateBucket(ctx, js, BucketGraphs)
	if err != nil {
		return nil, fmt.Errorf("create graphs bucket: %w", err)
	}
	return &GraphStore{kv: kv}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Semcontext entity graphs per document",
		History:     5,
	})
}

// graphKey encodes a document ID into the KV key alphabet.
func graphKey(docID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(docID))
}

// Put stores the graph of a document, replacing any earlier one.
func (s *GraphStore) Put(ctx context.Context, docID string, g *graph.Graph, report graph.Report) (*GraphRecord, error) {
	rec := &GraphRecord{
		ID:         uuid.New().String(),
		DocumentID: docID,
		Graph:      g,
		Report:     report,
		UpdatedAt:  time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	if _, err := s.kv.Put(ctx, graphKey(docID), data); err != nil {
		return nil, fmt.Errorf("store graph %s: %w", docID, err)
	}
	return rec, nil
}

// Get returns the stored graph of a document.
func (s *GraphStore) Get(ctx context.Context, docID string) (*GraphRecord, error) {
	entry, err := s.kv.Get(ctx, graphKey(docID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get graph %s: %w", docID, err)
	}
	var rec GraphRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal graph %s: %w", docID, err)
	}
	return &rec, nil
}

// Delete removes a document's graph.
func (s *GraphStore) Delete(ctx context.Context, docID string) error {
	if err := s.kv.Delete(ctx, graphKey(docID)); err != nil {
		return fmt.Errorf("delete graph %s: %w", docID, err)
	}
	return nil
}

// List returns every stored graph ordered by document ID. Entries that
// fail to load are skipped.
func (s *GraphStore) List(ctx context.Context) ([]*GraphRecord, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list graph keys: %w", err)
	}

	records := make([]*GraphRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec GraphRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DocumentID < records[j].DocumentID })
	return records, nil
}

// Merged folds every stored document graph into one corpus graph.
func (s *GraphStore) Merged(ctx context.Context) (*graph.Graph, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := &graph.Graph{}
	for _, rec := range records {
		out.Merge(rec.Graph)
	}
	return out, nil
}
