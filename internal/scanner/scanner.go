// Package scanner locates media references embedded in post blocks.
package scanner

import (
	"net/url"
	"path"
	"regexp"

	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/models"
)

// Reference is one media URL found in a block.
type Reference struct {
	Block int    // index into the block sequence
	Entry int    // image-row entry index, -1 for an image block's src
	URL   string // the URL as found

	Owner    string // empty for legacy uploads
	Filename string
	// Current is the storage-relative path the URL points at.
	Current string

	origin string
	form   mediapath.Form
	tail   string
}

// Legacy reports whether the reference points into the pre per-user
// uploads area.
func (r Reference) Legacy() bool {
	return r.Owner == ""
}

// Scanner recognises upload URLs for one media layout.
type Scanner struct {
	layout mediapath.Layout
	re     *regexp.Regexp
}

// New compiles the URL pattern for layout. Accepted shapes, with an optional
// scheme://host origin and an optional site prefix:
//
//	{url_prefix}/{owner}/uploads/{filename}
//	{url_prefix}/{legacy_dir}/.../{filename}
func New(layout mediapath.Layout) *Scanner {
	site := ""
	if layout.SitePrefix != "" {
		site = `(?P<site>` + regexp.QuoteMeta(layout.SitePrefix) + `)?`
	}
	shapes := `(?P<owner>[^/?#]+)/uploads/(?P<file>[^/?#]+)`
	if layout.LegacyDir != "" {
		shapes += `|(?P<legacy>` + regexp.QuoteMeta(layout.LegacyDir) + `/(?:[^/?#]+/)*[^/?#]+)`
	}
	expr := `^(?P<origin>[A-Za-z][A-Za-z0-9+.-]*://[^/?#]+)?` + site +
		regexp.QuoteMeta(layout.URLPrefix) + `/(?:` + shapes + `)(?P<tail>[?#].*)?$`
	return &Scanner{layout: layout, re: regexp.MustCompile(expr)}
}

// Match parses a single URL. The per-user shape wins over the legacy one.
func (s *Scanner) Match(raw string) (Reference, bool) {
	m := s.re.FindStringSubmatch(raw)
	if m == nil {
		return Reference{}, false
	}
	group := func(name string) string {
		if i := s.re.SubexpIndex(name); i >= 0 {
			return m[i]
		}
		return ""
	}
	ref := Reference{
		URL:    raw,
		origin: group("origin"),
		tail:   group("tail"),
		form:   mediapath.FormRoot,
	}
	if group("site") != "" {
		ref.form = mediapath.FormSite
	}

	if file := group("file"); file != "" {
		owner, err1 := url.PathUnescape(group("owner"))
		name, err2 := url.PathUnescape(file)
		if err1 != nil || err2 != nil || !safeSegment(owner) || !safeSegment(name) {
			return Reference{}, false
		}
		ref.Owner = owner
		ref.Filename = name
		ref.Current = mediapath.Resolve(owner, "", name)
		return ref, true
	}

	rel, err := url.PathUnescape(group("legacy"))
	if err != nil || rel == "" || path.Clean(rel) != rel {
		return Reference{}, false
	}
	ref.Filename = path.Base(rel)
	if !safeSegment(ref.Filename) {
		return Reference{}, false
	}
	ref.Current = rel
	return ref, true
}

// Scan returns every recognised media reference in blocks, in block order.
// Only image src and image-row entry src fields are inspected.
func (s *Scanner) Scan(blocks models.Blocks) []Reference {
	var refs []Reference
	add := func(bi, ei int, raw string) {
		if raw == "" {
			return
		}
		if ref, ok := s.Match(raw); ok {
			ref.Block, ref.Entry = bi, ei
			refs = append(refs, ref)
		}
	}
	for bi := range blocks {
		b := &blocks[bi]
		switch b.Type {
		case models.BlockImage:
			add(bi, -1, b.Src)
		case models.BlockImageRow:
			for ei, e := range b.Images {
				add(bi, ei, e.Src)
			}
		}
	}
	return refs
}

// Rewrite returns the URL of rel in the same surface form as ref: same
// origin, same prefix form, same query or fragment.
func (s *Scanner) Rewrite(ref Reference, rel string) string {
	return ref.origin + s.layout.URLForm(rel, ref.form) + ref.tail
}

func safeSegment(seg string) bool {
	return seg != "" && seg != "." && seg != ".." && path.Base(seg) == seg
}
