// Package contextenricher provides a NATS component that enriches stored
// pages with inline context.
//
// # Overview
//
// The enricher drains the SQLite page store on a poll interval: stuck
// pages are reset, pending pages are claimed in batches, and each page is
// run through the enrichment pipeline inside its own session. The final
// status of every claimed page is recorded in the store and published on
// "context.page.<status>".
//
// Enrichment requests arrive on the configured JetStream consumer. A
// request carrying content adds or replaces a page; a request with only a
// page id queues a finished page again. Either wakes the claim loop.
//
// # Entity graphs
//
// With extract_entities set, every contexted page is also run through
// entity extraction. With publish_entities set, the merged graph is stored
// in the graphs KV bucket and published to "graph.ingest.entity".
//
// # Usage
//
//	import contextenricher "github.com/c360studio/semcontext/processor/context-enricher"
//
//	func main() {
//	    contextenricher.Register(registry)
//	}
package contextenricher
