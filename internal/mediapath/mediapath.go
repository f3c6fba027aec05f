// Package mediapath computes canonical storage locations and public URLs for
// media files. Everything here is pure: no filesystem access.
package mediapath

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/jmtorr3/blog/internal/apperr"
)

const (
	postsDir   = "posts"
	uploadsDir = "uploads"
)

// Resolve returns the canonical path, relative to the storage root, of
// filename for owner. An empty slug places the file in the owner's uploads
// area; otherwise it lives in the post folder.
func Resolve(owner, slug, filename string) string {
	if slug == "" {
		return path.Join(owner, uploadsDir, filename)
	}
	return path.Join(owner, postsDir, slug, filename)
}

// Cover returns the canonical path of a post's cover image. The post must
// already have a slug.
func Cover(owner, slug, filename string) (string, error) {
	if slug == "" {
		return "", apperr.Invalid("slug", "post must have a slug before a cover image is set")
	}
	return Resolve(owner, slug, filename), nil
}

// PostDir is the folder holding every file of one post.
func PostDir(owner, slug string) string {
	return path.Join(owner, postsDir, slug)
}

// UploadsDir is the folder holding owner's unassociated uploads.
func UploadsDir(owner string) string {
	return path.Join(owner, uploadsDir)
}

// InUploads reports whether rel sits directly in an uploads area, either
// per-user or legacy.
func (l Layout) InUploads(rel string) bool {
	parts := strings.Split(rel, "/")
	if len(parts) == 3 && parts[1] == uploadsDir {
		return true
	}
	return l.LegacyDir != "" && len(parts) > 1 && parts[0] == l.LegacyDir
}

// InPost reports whether rel belongs to the post folder of owner and slug.
func InPost(rel, owner, slug string) bool {
	return strings.HasPrefix(rel, PostDir(owner, slug)+"/")
}

// Form records which of the two accepted prefixes a media URL used.
type Form int

const (
	// FormRoot is {url_prefix}/{path}.
	FormRoot Form = iota
	// FormSite is {site_prefix}{url_prefix}/{path}.
	FormSite
)

// Layout is the URL shape of the media area.
type Layout struct {
	URLPrefix  string // e.g. /media
	SitePrefix string // e.g. /blog
	LegacyDir  string // pre per-user uploads folder, e.g. uploads
}

// URL returns the root-relative public URL of rel.
func (l Layout) URL(rel string) string {
	return l.URLForm(rel, FormRoot)
}

// URLForm returns the public URL of rel in the given prefix form.
func (l Layout) URLForm(rel string, form Form) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	prefix := l.URLPrefix
	if form == FormSite {
		prefix = l.SitePrefix + l.URLPrefix
	}
	return prefix + "/" + strings.Join(segs, "/")
}

// RelFromURL maps a public media URL (either prefix form, optionally with an
// origin) back to a storage-relative path.
func (l Layout) RelFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := u.Path
	if l.SitePrefix != "" && strings.HasPrefix(p, l.SitePrefix+l.URLPrefix+"/") {
		p = strings.TrimPrefix(p, l.SitePrefix)
	}
	if !strings.HasPrefix(p, l.URLPrefix+"/") {
		return "", false
	}
	rel := strings.TrimPrefix(p, l.URLPrefix+"/")
	if rel == "" || path.Clean(rel) != rel || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// WithCounter inserts "_n" before the extension; n == 0 returns name.
func WithCounter(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext
}

// SanitizeFilename reduces an upload name to a safe single path segment.
// Letters, digits, dot, hyphen and underscore are kept; whitespace becomes
// an underscore and everything else is dropped.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := strings.ToLower(path.Ext(name))
	stem := strings.TrimSuffix(name, path.Ext(name))

	var b strings.Builder
	for _, r := range stem {
		switch {
		case r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		clean = "file"
	}
	if len(clean) > 200 {
		clean = clean[:200]
	}
	return clean + ext
}
