package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chronicler/internal/fileutil"
)

const frontmatterDelimiter = "---"

// Frontmatter is the YAML header written at the top of every artifact.
type Frontmatter struct {
	RunID       string      `yaml:"run_id"`
	WindowID    string      `yaml:"window_id"`
	Index       int         `yaml:"index"`
	Start       time.Time   `yaml:"start"`
	End         time.Time   `yaml:"end"`
	Messages    int         `yaml:"messages"`
	Model       string      `yaml:"model,omitempty"`
	GeneratedAt time.Time   `yaml:"generated_at"`
	Links       []LinkEntry `yaml:"links,omitempty"`
}

// LinkEntry records an enriched URL in the frontmatter.
type LinkEntry struct {
	URL         string `yaml:"url"`
	Fingerprint string `yaml:"fingerprint"`
}

// Stored is an artifact discovered on disk by Scan.
type Stored struct {
	Frontmatter Frontmatter
	Path        string
	SHA256      string
}

// Markdown writes artifacts as <dir>/<run_id>/<window_id>.md.
type Markdown struct {
	dir  string
	mode os.FileMode
}

// NewMarkdown returns a sink rooted at dir.
func NewMarkdown(dir string) *Markdown {
	return &Markdown{dir: dir, mode: 0o644}
}

// PathFor returns the file an artifact for runID/windowID is written to.
func (m *Markdown) PathFor(runID, windowID string) string {
	return filepath.Join(m.dir, runID, windowID+".md")
}

// Emit renders the artifact and atomically writes it into place.
func (m *Markdown) Emit(ctx context.Context, a Artifact) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if a.RunID == "" || a.WindowID == "" {
		return Receipt{}, errors.New("markdown sink: run id and window id required")
	}
	data, err := Render(a)
	if err != nil {
		return Receipt{}, err
	}
	path := m.PathFor(a.RunID, a.WindowID)
	if err := fileutil.WriteFileAtomic(path, data, m.mode); err != nil {
		return Receipt{}, fmt.Errorf("markdown sink: write %s: %w", a.WindowID, err)
	}
	return Receipt{Path: path, SHA256: fileutil.SHA256Hex(data)}, nil
}

// Render produces the Markdown document for an artifact.
func Render(a Artifact) ([]byte, error) {
	fm := Frontmatter{
		RunID:       a.RunID,
		WindowID:    a.WindowID,
		Index:       a.Index,
		Start:       a.Start,
		End:         a.End,
		Messages:    len(a.Transcript),
		Model:       a.Model,
		GeneratedAt: a.GeneratedAt.UTC(),
	}
	for _, link := range a.Links {
		fm.Links = append(fm.Links, LinkEntry{URL: link.URL, Fingerprint: link.Fingerprint})
	}
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("markdown sink: encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")
	buf.Write(header)
	buf.WriteString(frontmatterDelimiter + "\n\n")
	buf.WriteString(strings.TrimSpace(a.Text))
	buf.WriteString("\n")

	if len(a.Links) > 0 {
		buf.WriteString("\n## Links\n\n")
		for _, link := range a.Links {
			fmt.Fprintf(&buf, "- <%s>: %s\n", link.URL, oneLine(link.Text))
		}
	}

	buf.WriteString("\n## Transcript\n\n")
	loc := a.Start.Location()
	for _, msg := range a.Transcript {
		fmt.Fprintf(&buf, "- %s [%s]: %s\n", msg.Timestamp.In(loc).Format("2006-01-02 15:04"), msg.Sender, oneLine(msg.Text))
	}
	return buf.Bytes(), nil
}

// ParseFrontmatter extracts the YAML header from a rendered artifact.
func ParseFrontmatter(data []byte) (Frontmatter, error) {
	var fm Frontmatter
	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return fm, errors.New("missing frontmatter")
	}
	rest := text[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter+"\n")
	if end < 0 {
		return fm, errors.New("unterminated frontmatter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return fm, fmt.Errorf("decode frontmatter: %w", err)
	}
	if fm.WindowID == "" {
		return fm, errors.New("frontmatter has no window_id")
	}
	return fm, nil
}

// Scan lists the artifacts written for runID, sorted by index. Files whose
// frontmatter cannot be parsed or names another run are skipped.
func (m *Markdown) Scan(runID string) ([]Stored, error) {
	dir := filepath.Join(m.dir, runID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var out []Stored
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		fm, err := ParseFrontmatter(data)
		if err != nil || fm.RunID != runID {
			continue
		}
		out = append(out, Stored{Frontmatter: fm, Path: path, SHA256: fileutil.SHA256Hex(data)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frontmatter.Index != out[j].Frontmatter.Index {
			return out[i].Frontmatter.Index < out[j].Frontmatter.Index
		}
		return out[i].Frontmatter.WindowID < out[j].Frontmatter.WindowID
	})
	return out, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
