package fetcher

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/eci-tracker/internal/model"
)

// ManifestCase names the source documents of one initiative.
type ManifestCase struct {
	ID          string `yaml:"id" csv:"id"`
	ResponseURL string `yaml:"response_url" csv:"response_url"`
	FollowupURL string `yaml:"followup_url" csv:"followup_url"`
}

// Manifest lists the cases to download.
type Manifest struct {
	Cases []ManifestCase `yaml:"cases"`
}

// LoadManifest reads a YAML manifest, or a CSV one with an id,
// response_url, followup_url header when the file ends in .csv.
func LoadManifest(p string) (*Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read %s", p)
	}

	var m Manifest
	if strings.EqualFold(filepath.Ext(p), ".csv") {
		if err := csvutil.Unmarshal(data, &m.Cases); err != nil {
			return nil, eris.Wrapf(err, "manifest: parse csv %s", p)
		}
	} else if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "manifest: parse yaml %s", p)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every case has a usable id and at least one URL.
// Case ids become directory paths, so they must stay inside the output dir.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Cases))
	for i, c := range m.Cases {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return eris.Errorf("manifest: case %d has no id", i)
		}
		clean := path.Clean(id)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return eris.Errorf("manifest: case id %q escapes the output directory", id)
		}
		if seen[clean] {
			return eris.Errorf("manifest: duplicate case id %q", id)
		}
		seen[clean] = true
		if c.ResponseURL == "" && c.FollowupURL == "" {
			return eris.Errorf("manifest: case %q has no document urls", id)
		}
		m.Cases[i].ID = clean
	}
	return nil
}

// FetchOptions controls where FetchAll writes documents.
type FetchOptions struct {
	Dir          string
	ResponseFile string
	FollowupFile string
	Concurrency  int
	// Force ignores stored ETags and downloads everything.
	Force bool
}

// DocumentFailure is a document that could not be downloaded.
type DocumentFailure struct {
	CaseID string           `json:"case_id"`
	Source model.SourceKind `json:"source"`
	URL    string           `json:"url"`
	Error  string           `json:"error"`
}

// FetchSummary counts what FetchAll did.
type FetchSummary struct {
	Downloaded int               `json:"downloaded"`
	Unchanged  int               `json:"unchanged"`
	Failures   []DocumentFailure `json:"failures,omitempty"`
}

type document struct {
	caseID string
	source model.SourceKind
	url    string
	path   string
}

// FetchAll downloads every document in the manifest into
// <Dir>/<case id>/<file name>. A failed document is recorded in the summary
// and does not stop the others. An ETag sidecar next to each file lets
// later runs skip unchanged documents.
func FetchAll(ctx context.Context, f Fetcher, m *Manifest, opts FetchOptions) (*FetchSummary, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	var docs []document
	for _, c := range m.Cases {
		caseDir := filepath.Join(opts.Dir, filepath.FromSlash(c.ID))
		if c.ResponseURL != "" {
			docs = append(docs, document{c.ID, model.SourceResponse, c.ResponseURL, filepath.Join(caseDir, opts.ResponseFile)})
		}
		if c.FollowupURL != "" {
			docs = append(docs, document{c.ID, model.SourceFollowup, c.FollowupURL, filepath.Join(caseDir, opts.FollowupFile)})
		}
	}

	var (
		mu      sync.Mutex
		summary FetchSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, d := range docs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			changed, err := fetchDocument(gctx, f, d, opts.Force)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("fetch: document failed",
					zap.String("case_id", d.caseID),
					zap.String("source", string(d.source)),
					zap.Error(err),
				)
				summary.Failures = append(summary.Failures, DocumentFailure{
					CaseID: d.caseID, Source: d.source, URL: d.url, Error: err.Error(),
				})
			case changed:
				summary.Downloaded++
			default:
				summary.Unchanged++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "fetch: download documents")
	}

	sort.Slice(summary.Failures, func(i, j int) bool {
		a, b := summary.Failures[i], summary.Failures[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		return a.Source > b.Source
	})
	return &summary, nil
}

func fetchDocument(ctx context.Context, f Fetcher, d document, force bool) (bool, error) {
	etagPath := d.path + ".etag"
	etag := ""
	if !force {
		if _, err := os.Stat(d.path); err == nil {
			if b, err := os.ReadFile(etagPath); err == nil {
				etag = strings.TrimSpace(string(b))
			}
		}
	}

	body, newETag, changed, err := f.DownloadIfChanged(ctx, d.url, etag)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	defer body.Close() //nolint:errcheck

	if _, err := writeFileAtomic(d.path, body); err != nil {
		return false, err
	}
	if newETag == "" {
		_ = os.Remove(etagPath)
		return true, nil
	}
	if err := os.WriteFile(etagPath, []byte(newETag+"\n"), 0o644); err != nil {
		return true, eris.Wrap(err, "fetch: write etag")
	}
	return true, nil
}
