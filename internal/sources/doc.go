// Package sources defines the pipelines for every supported export kind.
//
// A Definition is a fixed, ordered list of workflow stages. The stages share
// their bodies through the builders in stages.go; each source only decides
// the order, the skip predicates and how its export is read and scraped.
package sources
