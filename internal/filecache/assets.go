package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// PublicPrefix is the placeholder the destination replaces with its own URL.
const PublicPrefix = "__GHOST_URL__"

// AssetKind selects the bundle content directory.
type AssetKind string

const (
	AssetImages AssetKind = "images"
	AssetMedia  AssetKind = "media"
)

// AssetPath maps a remote asset URL to its location in the bundle and the
// public reference that replaces it in content.
func (c *Cache) AssetPath(kind AssetKind, rawURL string) (local string, public string) {
	rel := assetRelPath(rawURL)
	local = filepath.Join(c.ZipDir(), "content", string(kind), filepath.FromSlash(rel))
	public = PublicPrefix + "/content/" + string(kind) + "/" + rel
	return local, public
}

// Exists reports whether a file is already present at local.
func Exists(local string) bool {
	info, err := os.Stat(local)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// assetRelPath keeps the host as the first segment so identical paths on
// different hosts land in different files.
func assetRelPath(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		sum := sha256.Sum256([]byte(rawURL))
		return "asset-" + hex.EncodeToString(sum[:8])
	}
	cleaned := path.Clean("/" + parsed.Path)
	segments := strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
	for i, seg := range segments {
		segments[i] = sanitize(seg)
	}
	if parsed.Host != "" {
		segments = append([]string{sanitize(strings.ToLower(parsed.Host))}, segments...)
	}
	rel := strings.Join(segments, "/")
	if parsed.RawQuery != "" {
		sum := sha256.Sum256([]byte(parsed.RawQuery))
		ext := path.Ext(rel)
		rel = strings.TrimSuffix(rel, ext) + "-" + hex.EncodeToString(sum[:4]) + ext
	}
	return rel
}

func sanitize(value string) string {
	replacer := strings.NewReplacer(
		"\\", "-",
		" ", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
	)
	value = strings.Trim(replacer.Replace(value), "-_")
	if value == "" || value == "." || value == ".." {
		return "asset"
	}
	return value
}
