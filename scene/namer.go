package scene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Placeholders recognized in naming templates. "(N)" keeps its parentheses in
// the produced name; "{N}" is replaced entirely.
const (
	PlaceholderParen = "(N)"
	PlaceholderBrace = "{N}"
)

// OutputName is a computed artifact filename.
type OutputName struct {
	Directory string
	BaseName  string
	Index     int
}

// Path joins the directory and base name.
func (n OutputName) Path() string {
	return filepath.Join(n.Directory, n.BaseName)
}

// NameTemplate is a parsed naming template.
type NameTemplate struct {
	Prefix string
	Suffix string
}

// ParseNameTemplate splits template around its single numeric placeholder.
func ParseNameTemplate(template string) (NameTemplate, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return NameTemplate{}, NewError(KindValidation, "name template is required", nil)
	}
	if strings.ContainsAny(template, `/\`) {
		return NameTemplate{}, NewError(KindValidation, fmt.Sprintf("name template %q must not contain path separators", template), nil)
	}
	paren := strings.Count(template, PlaceholderParen)
	brace := strings.Count(template, PlaceholderBrace)
	switch {
	case paren == 1 && brace == 0:
		idx := strings.Index(template, PlaceholderParen)
		return NameTemplate{Prefix: template[:idx+1], Suffix: template[idx+2:]}, nil
	case brace == 1 && paren == 0:
		idx := strings.Index(template, PlaceholderBrace)
		return NameTemplate{Prefix: template[:idx], Suffix: template[idx+len(PlaceholderBrace):]}, nil
	default:
		return NameTemplate{}, NewError(KindValidation, fmt.Sprintf("name template %q needs exactly one %s or %s placeholder", template, PlaceholderParen, PlaceholderBrace), nil)
	}
}

// Format renders the name for index.
func (t NameTemplate) Format(index int) string {
	return t.Prefix + strconv.Itoa(index) + t.Suffix
}

// Pattern matches names produced by the template and captures the index.
func (t NameTemplate) Pattern() *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(t.Prefix) + `(\d+)` + regexp.QuoteMeta(t.Suffix) + `$`)
}

// TemplateForMime swaps the template extension when it disagrees with mime.
func TemplateForMime(template string, mime MimeType) string {
	if mime == "" {
		return template
	}
	ext := filepath.Ext(template)
	if ext != "" && NormalizeMime(strings.TrimPrefix(ext, ".")) == mime {
		return template
	}
	return strings.TrimSuffix(template, ext) + "." + mime.Extension()
}

// OSDirLister lists directories on the local filesystem.
type OSDirLister struct{}

// List creates dir when missing and returns its entry names.
func (OSDirLister) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// OutputNamer computes the next free index for a template by scanning the
// target directory on every call.
//
// The scan is not atomic: concurrent writers to the same directory may compute
// the same index. Monotonic naming holds for a single writer only.
type OutputNamer struct {
	Lister DirLister
}

// NewOutputNamer creates a namer backed by lister, or the local filesystem
// when lister is nil.
func NewOutputNamer(lister DirLister) *OutputNamer {
	return &OutputNamer{Lister: lister}
}

// NextName returns max(existing indices, 0) + 1 for template within dir.
func (n *OutputNamer) NextName(ctx context.Context, dir, template string) (OutputName, error) {
	parsed, err := ParseNameTemplate(template)
	if err != nil {
		return OutputName{}, err
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}

	lister := DirLister(OSDirLister{})
	if n != nil && n.Lister != nil {
		lister = n.Lister
	}
	names, err := lister.List(ctx, dir)
	if err != nil {
		return OutputName{}, NewError(KindInternal, fmt.Sprintf("list output directory %s", dir), err)
	}

	pattern := parsed.Pattern()
	highest := 0
	for _, name := range names {
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if index > highest {
			highest = index
		}
	}

	next := highest + 1
	return OutputName{Directory: dir, BaseName: parsed.Format(next), Index: next}, nil
}
