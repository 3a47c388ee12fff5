// Package crawler holds the domain model of the parts-catalogue crawl: work
// units, checkpoint records, part records, the collaborator interfaces the
// pipeline is built from, the error taxonomy and the retry policy.
package crawler
