// Package document defines the shape of migrated content as it flows through
// the pipeline, the normalization step that turns ingested posts into the
// destination import schema, and the rendering of that schema as the import
// bundle JSON.
package document
