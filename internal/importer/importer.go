package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/models"
	"github.com/starford/pressroom/internal/store"
)

// Creator persists one imported article.
type Creator interface {
	CreateArticle(ctx context.Context, ownerID string, in store.NewArticle) (*models.Article, error)
}

// Dir is a directory of import files.
type Dir struct {
	root string // absolute path
}

// NewDir opens root, which must be an existing directory.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("importer: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("importer: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("importer: root is not a directory: %s", abs)
	}
	return &Dir{root: abs}, nil
}

func isImportFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

// List returns the relative paths of every .html/.htm file, in lexical order.
// Dot-directories are skipped.
func (d *Dir) List() ([]string, error) {
	out, err := d.walk(d.root)
	if err != nil {
		return nil, fmt.Errorf("importer: list: %w", err)
	}
	return out, nil
}

func (d *Dir) walk(base string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(base, func(p string, e fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if e.IsDir() {
			if p != d.root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isImportFile(e.Name()) {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

// hidden reports whether any element of rel starts with a dot.
func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// Read returns the bytes of rel, refusing paths that escape the root.
func (d *Dir) Read(rel string) ([]byte, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("importer: absolute paths not allowed: %s", rel)
	}
	abs := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return nil, fmt.Errorf("importer: path escapes root: %s", rel)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("importer: read %s: %w", rel, err)
	}
	return data, nil
}

// Result is the outcome for one file.
type Result struct {
	Path      string        `json:"path"`
	ArticleID string        `json:"articleId,omitempty"`
	Status    models.Status `json:"status,omitempty"`
	Error     apperr.Kind   `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Report summarises an import run.
type Report struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Results  []Result `json:"results"`
}

// Importer creates articles from a Dir.
type Importer struct {
	creator Creator
	logger  *slog.Logger
}

// New creates an Importer. A nil logger uses slog.Default.
func New(creator Creator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{creator: creator, logger: logger}
}

// Import creates one article per file for ownerID. A bad file is recorded
// in the report and does not stop the run; only listing failures and
// context cancellation return an error.
func (im *Importer) Import(ctx context.Context, dir *Dir, ownerID string) (*Report, error) {
	paths, err := dir.List()
	if err != nil {
		return nil, err
	}

	report := &Report{Results: make([]Result, 0, len(paths))}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := im.importFile(ctx, dir, ownerID, p)
		if res.Error != "" {
			report.Failed++
		} else {
			report.Imported++
		}
		im.logResult(res)
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (im *Importer) importFile(ctx context.Context, dir *Dir, ownerID, path string) Result {
	data, err := dir.Read(path)
	if err != nil {
		return failed(path, err)
	}
	return im.create(ctx, ownerID, path, data)
}

func (im *Importer) create(ctx context.Context, ownerID, path string, data []byte) Result {
	doc, err := Parse(data)
	if err != nil {
		return failed(path, err)
	}
	a, err := im.creator.CreateArticle(ctx, ownerID, doc.NewArticle())
	if err != nil {
		return failed(path, err)
	}
	return Result{Path: path, ArticleID: a.ID, Status: a.Status}
}

func failed(path string, err error) Result {
	return Result{Path: path, Error: apperr.KindOf(err), Message: err.Error()}
}

func (im *Importer) logResult(res Result) {
	if res.Error != "" {
		im.logger.Warn("import failed",
			slog.String("path", res.Path),
			slog.String("kind", string(res.Error)),
			slog.String("error", res.Message))
		return
	}
	im.logger.Info("imported article",
		slog.String("path", res.Path),
		slog.String("article_id", res.ArticleID),
		slog.String("status", string(res.Status)))
}
