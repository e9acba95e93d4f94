// Package crawler implements job-tree traversal for brewery scrapers: the node
// model plugins build, the error taxonomy that isolates per-node failures, the
// Stats accumulator, and the Adapter that walks a scraper's tree through a
// Retriever.
package crawler
