package postservice

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/jmtorr3/blog/internal/apperr"
	"github.com/jmtorr3/blog/internal/mediapath"
	"github.com/jmtorr3/blog/internal/models"
	"github.com/jmtorr3/blog/internal/relocate"
	"github.com/jmtorr3/blog/internal/store"
)

// Outcome strings for references that never reached the relocation engine.
const (
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// RefResult is what reconciliation did with one media reference.
type RefResult struct {
	Block   int    `json:"block"`
	Entry   int    `json:"entry"`
	URL     string `json:"url"`
	NewURL  string `json:"new_url,omitempty"`
	Outcome string `json:"outcome"`
	Warning string `json:"warning,omitempty"`
}

// Report summarises one reconciliation pass.
type Report struct {
	References []RefResult `json:"references"`
}

// Rewritten counts references whose URL now points at the post folder.
func (r *Report) Rewritten() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, ref := range r.References {
		if ref.NewURL != "" {
			n++
		}
	}
	return n
}

// Warnings returns the references left untouched because of a problem.
func (r *Report) Warnings() []RefResult {
	if r == nil {
		return nil
	}
	var out []RefResult
	for _, ref := range r.References {
		if ref.Warning != "" {
			out = append(out, ref)
		}
	}
	return out
}

// reconcile moves every upload referenced from p's blocks into p's folder,
// rewrites the references, points matching media records at p and writes
// the rewritten blocks back without re-entering Save.
func (s *Service) reconcile(ctx context.Context, p *models.Post) (*Report, error) {
	report := &Report{References: []RefResult{}}
	refs := s.scanner.Scan(p.Blocks)
	if len(refs) == 0 {
		return report, nil
	}

	owner := p.Author.Username
	blocks := p.Blocks.Clone()
	settled := make(map[string]string, len(refs)) // current path -> canonical path

	for _, ref := range refs {
		res := RefResult{Block: ref.Block, Entry: ref.Entry, URL: ref.URL}
		canonical := mediapath.Resolve(owner, p.Slug, ref.Filename)

		if to, ok := settled[ref.Current]; ok {
			res.Outcome = relocate.AlreadyCorrect.String()
			res.NewURL = s.scanner.Rewrite(ref, to)
			blocks[ref.Block].SetMediaURL(ref.Entry, res.NewURL)
			report.References = append(report.References, res)
			continue
		}
		if !ref.Legacy() && ref.Owner != owner {
			res.Outcome = outcomeSkipped
			res.Warning = "file belongs to another user"
			s.warn(p, res)
			report.References = append(report.References, res)
			continue
		}

		record, err := s.recordAt(ctx, ref.Current)
		if err != nil {
			return report, err
		}
		if record != nil && record.Owner.ID != p.Author.ID {
			res.Outcome = outcomeSkipped
			res.Warning = "media record belongs to another user"
			s.warn(p, res)
			report.References = append(report.References, res)
			continue
		}

		outcome, err := s.engine.Relocate(ref.Current, canonical)
		res.Outcome = outcome.String()
		switch {
		case err != nil:
			res.Outcome = outcomeError
			res.Warning = err.Error()
		case !outcome.Settled():
			res.Warning = outcome.String()
		}
		if res.Warning != "" {
			s.warn(p, res)
			report.References = append(report.References, res)
			continue
		}

		settled[ref.Current] = canonical
		res.NewURL = s.scanner.Rewrite(ref, canonical)
		blocks[ref.Block].SetMediaURL(ref.Entry, res.NewURL)
		if record != nil {
			err := s.db.UpdateMediaFields(ctx, record.ID, store.MediaFields{
				StoredPath: &canonical,
				SetPost:    true,
				PostID:     &p.ID,
			})
			if err != nil {
				return report, err
			}
		}
		report.References = append(report.References, res)
	}

	if report.Rewritten() == 0 {
		return report, nil
	}
	if err := s.db.UpdatePostFields(ctx, p.ID, store.PostFields{Blocks: &blocks}); err != nil {
		return report, err
	}
	p.Blocks = blocks
	s.logger.Info("post: media reconciled",
		slog.String("post", p.Slug), slog.Int("rewritten", report.Rewritten()))
	return report, nil
}

// recordAt returns the media record stored at rel, or nil.
func (s *Service) recordAt(ctx context.Context, rel string) (*models.Media, error) {
	m, err := s.db.MediaByStoredPath(ctx, rel)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

func (s *Service) warn(p *models.Post, res RefResult) {
	s.logger.Warn("post: media reference not relocated",
		slog.String("post", p.Slug),
		slog.String("url", res.URL),
		slog.String("outcome", res.Outcome),
		slog.String("warning", res.Warning))
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
