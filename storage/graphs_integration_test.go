//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/semcontext/graph"
)

func TestGraphStore_JetStream(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()

	js, err := tc.Client.JetStream()
	if err != nil {
		t.Fatalf("JetStream() error = %v", err)
	}
	store, err := NewGraphStore(ctx, js)
	if err != nil {
		t.Fatalf("NewGraphStore() error = %v", err)
	}

	g := &graph.Graph{Places: []graph.Entity{{Name: "Ohio"}}}
	if _, err := store.Put(ctx, "doc-1", g, graph.Report{Windows: 1}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if names := got.Graph.Names(graph.KindPlace); len(names) != 1 || names[0] != "Ohio" {
		t.Errorf("places = %v, want [Ohio]", names)
	}

	if _, err := store.Get(ctx, "doc-2"); err != ErrNotFound {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}
