// Package assets downloads images and other media referenced by posts into
// the import bundle and rewrites the references to bundle-relative URLs.
//
// One Scraper exists per asset kind. Media over the configured size limit is
// not downloaded; it is listed in the size report instead, and that is not a
// failure.
package assets
