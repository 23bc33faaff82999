// Package webscraper fills in post metadata that an export does not carry by
// fetching each published post from the live site and reading it with CSS
// selectors.
//
// The selector set is a Config value built per job; nothing about it is
// global. Scraped results are cached in the job workspace so a rerun does not
// hit the site again.
package webscraper
