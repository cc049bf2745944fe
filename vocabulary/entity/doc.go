// Package entity provides vocabulary predicates for entities extracted from
// enriched documents: people, places, organizations, dates, events, cited
// documents and subjects, plus the relationships between them.
//
// Import this package to auto-register predicates:
//
//	import _ "github.com/c360studio/semcontext/vocabulary/entity"
package entity
