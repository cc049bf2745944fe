// Package mcpserver exposes the enrichment engine as MCP tools over stdio.
//
// Tools:
//
//   - contextualize_markdown: enhance one markdown document and return it
//   - validate_enhancement: check that an enhanced block only adds [[...]] spans
//   - preview_windows: show how a document would be split into windows
//   - extract_entities: return the entity graph of a markdown document as
//     JSON or, with format set, as Turtle, N-Triples or JSON-LD
//   - progress_stats: report the window progress of the running server
package mcpserver
