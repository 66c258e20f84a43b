// Package export writes scrape results to files in JSON, CSV or Excel form
// and resolves those files again for download.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/github-scraper/pkg/github"
	"github.com/Sternrassler/github-scraper/pkg/scraper"
)

// Format is an export file format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

// excelCellLimit is the maximum number of characters an Excel cell holds.
const excelCellLimit = 32767

// maxColumnWidth caps auto-sized Excel columns.
const maxColumnWidth = 50

var (
	// ErrUnsupportedFormat is returned for an unknown Format.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrFileNotFound is returned by Resolve for a missing file.
	ErrFileNotFound = errors.New("export file not found")

	// ErrAccessDenied is returned by Resolve for a file that does not belong to
	// the job, and by Remove for a path outside the output directory.
	ErrAccessDenied = errors.New("export file does not belong to job")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ParseFormat converts a case-insensitive name into a Format. "xlsx" is
// accepted as an alias of excel.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FileInfo describes an exported file.
type FileInfo struct {
	Name       string    `json:"filename"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Exporter writes export files into one output directory.
type Exporter struct {
	dir    string
	logger zerolog.Logger
}

// New creates an Exporter, creating dir if needed.
func New(dir string, logger zerolog.Logger) (*Exporter, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Exporter{dir: abs, logger: logger}, nil
}

// Dir returns the absolute output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Export writes res for jobID in the given format and returns the paths of
// the files written, in creation order.
func (e *Exporter) Export(ctx context.Context, jobID string, res *scraper.Result, format Format) ([]string, error) {
	if res == nil {
		return nil, errors.New("nothing to export")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := sanitize(jobID) + "_" + sanitize(res.Username)
	var (
		paths []string
		err   error
	)
	switch format {
	case FormatJSON:
		paths, err = e.writeJSON(base, res)
	case FormatCSV:
		paths, err = e.writeCSV(base, res)
	case FormatExcel:
		paths, err = e.writeExcel(base, res)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", format, err)
	}

	e.logger.Info().
		Str("job_id", jobID).
		Str("format", string(format)).
		Strs("files", paths).
		Msg("export written")
	return paths, nil
}

func (e *Exporter) writeJSON(base string, res *scraper.Result) ([]string, error) {
	path := filepath.Join(e.dir, base+"_data.json")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return []string{path}, nil
}

func (e *Exporter) writeCSV(base string, res *scraper.Result) ([]string, error) {
	profilePath := filepath.Join(e.dir, base+"_profile.csv")
	reposPath := filepath.Join(e.dir, base+"_repositories.csv")

	profileRows := [][]string{profileColumns, stringify(profileRow(res.Profile))}
	if err := writeCSVFile(profilePath, profileRows); err != nil {
		return nil, err
	}

	repoRows := make([][]string, 0, len(res.Repositories)+1)
	repoRows = append(repoRows, repoColumns)
	for _, r := range res.Repositories {
		repoRows = append(repoRows, stringify(repoRow(r)))
	}
	if err := writeCSVFile(reposPath, repoRows); err != nil {
		if rmErr := e.Remove(profilePath); rmErr != nil {
			e.logger.Warn().Err(rmErr).Str("path", profilePath).Msg("failed to remove partial export")
		}
		return nil, err
	}
	return []string{profilePath, reposPath}, nil
}

// writeCSVFile writes rows to path. A file it created is removed again if
// writing fails.
func writeCSVFile(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func (e *Exporter) writeExcel(base string, res *scraper.Result) ([]string, error) {
	path := filepath.Join(e.dir, base+"_data.xlsx")

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Profile"); err != nil {
		return nil, err
	}
	if err := writeSheet(f, "Profile", profileColumns, [][]any{profileRow(res.Profile)}); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet("Repositories"); err != nil {
		return nil, err
	}
	rows := make([][]any, 0, len(res.Repositories))
	for _, r := range res.Repositories {
		rows = append(rows, repoRow(r))
	}
	if err := writeSheet(f, "Repositories", repoColumns, rows); err != nil {
		return nil, err
	}

	if err := f.SaveAs(path); err != nil {
		os.Remove(path)
		return nil, err
	}
	return []string{path}, nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = utf8.RuneCountInString(h)
	}

	write := func(rowIdx int, cells []any) error {
		for col, v := range cells {
			if s, ok := v.(string); ok {
				if utf8.RuneCountInString(s) > excelCellLimit {
					s = string([]rune(s)[:excelCellLimit])
				}
				v = s
			}
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if n := utf8.RuneCountInString(fmt.Sprint(v)); n > widths[col] {
				widths[col] = n
			}
		}
		return nil
	}

	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	if err := write(1, headerCells); err != nil {
		return err
	}
	for i, row := range rows {
		if err := write(i+2, row); err != nil {
			return err
		}
	}

	for col, w := range widths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, name, name, float64(min(w+2, maxColumnWidth))); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes export files previously returned by Export. Paths outside
// the output directory are refused and files already gone are skipped.
func (e *Exporter) Remove(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if filepath.Dir(filepath.Clean(path)) != e.dir {
			errs = append(errs, fmt.Errorf("%w: %s", ErrAccessDenied, path))
			continue
		}
		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err == nil && info.IsDir() {
			errs = append(errs, fmt.Errorf("%w: %s is a directory", ErrAccessDenied, path))
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		e.logger.Debug().Str("path", path).Msg("export file removed")
	}
	return errors.Join(errs...)
}

// Files lists the export files belonging to jobID, sorted by name.
func (e *Exporter) Files(jobID string) ([]FileInfo, error) {
	prefix := sanitize(jobID) + "_"
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	files := make([]FileInfo, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:       entry.Name(),
			Path:       filepath.Join(e.dir, entry.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Resolve returns the path of filename if it is an export of jobID.
func (e *Exporter) Resolve(jobID, filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return "", ErrAccessDenied
	}
	if !strings.HasPrefix(filename, sanitize(jobID)+"_") {
		return "", ErrAccessDenied
	}

	path := filepath.Join(e.dir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrFileNotFound
	}
	return path, nil
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

var profileColumns = []string{
	"Username", "Name", "Bio", "Company", "Location", "Email", "Blog", "Twitter",
	"Public Repos", "Public Gists", "Followers", "Following",
	"Created At", "Updated At", "Profile URL",
}

func profileRow(p *github.Profile) []any {
	if p == nil {
		p = &github.Profile{}
	}
	return []any{
		p.Username, p.Name, p.Bio, p.Company, p.Location, p.Email, p.Blog, p.TwitterUsername,
		p.PublicRepos, p.PublicGists, p.Followers, p.Following,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), p.HTMLURL,
	}
}

var repoColumns = []string{
	"Repository Name", "Description", "URL", "Stars", "Forks", "Watchers", "Language",
	"Open Issues", "Created At", "Updated At", "Size (KB)", "Default Branch", "Is Fork",
	"README Content",
}

func repoRow(r github.Repository) []any {
	lang := r.Language
	if lang == "" {
		lang = "N/A"
	}
	return []any{
		r.Name, r.Description, r.HTMLURL, r.Stars, r.Forks, r.Watchers, lang,
		r.OpenIssues, formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Size, r.DefaultBranch, r.IsFork,
		r.ReadmeContent,
	}
}

func stringify(cells []any) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		switch v := c.(type) {
		case string:
			out[i] = v
		case int:
			out[i] = strconv.Itoa(v)
		case bool:
			out[i] = strconv.FormatBool(v)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
