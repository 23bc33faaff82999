// Package preflight provides readiness checks for the filesystem paths and
// services a migration depends on.
//
// The CLI "migrate doctor" command runs RunAll; the individual checks
// (CheckDirectoryAccess, CheckSite, CheckHistory, CheckCache) are usable on
// their own. The history check only runs when history is enabled and the site
// check only when a URL is given.
package preflight
