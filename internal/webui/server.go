// Package webui serves a read-only browser for the working directory: file
// listing, highlighted file view and the current git diff.
package webui

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	chromaStyle = "github"

	// Files above this size are served truncated
	maxViewBytes = 512 * 1024
)

var errPathOutsideRoot = errors.New("path escapes the working directory")

// Server is the embedded web UI
type Server struct {
	echo *echo.Echo
	root string
	addr string

	markdown goldmark.Markdown
}

type renderer struct {
	templates *template.Template
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

// New creates a web UI rooted at the given directory
func New(root, addr string) (*Server, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve web root: %w", err)
	}

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Renderer = &renderer{templates: templates}

	s := &Server{
		echo: e,
		root: absRoot,
		addr: addr,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}

	e.GET("/", s.handleIndex)
	e.GET("/files", s.handleFiles)
	e.GET("/file", s.handleFile)
	e.GET("/diff", s.handleDiff)

	return s, nil
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	log.Infof("Web UI listening on %s (root %s)", s.addr, s.root)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// safePath resolves a request path inside the root, rejecting traversal
func (s *Server) safePath(reqPath string) (string, error) {
	cleaned := filepath.Clean("/" + reqPath)
	full := filepath.Join(s.root, cleaned)
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", errPathOutsideRoot
	}
	return full, nil
}

type dirEntry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

type listPage struct {
	Root    string
	Path    string
	Parent  string
	Entries []dirEntry
}

type filePage struct {
	Root    string
	Path    string
	Content template.HTML
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.renderListing(c, "")
}

func (s *Server) handleFiles(c echo.Context) error {
	return s.renderListing(c, c.QueryParam("path"))
}

func (s *Server) renderListing(c echo.Context, reqPath string) error {
	full, err := s.safePath(reqPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	infos, err := os.ReadDir(full)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "cannot read directory")
	}

	rel, _ := filepath.Rel(s.root, full)
	if rel == "." {
		rel = ""
	}

	entries := make([]dirEntry, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") {
			continue
		}
		var size int64
		if fi, err := info.Info(); err == nil {
			size = fi.Size()
		}
		entries = append(entries, dirEntry{
			Name:  info.Name(),
			Path:  filepath.Join(rel, info.Name()),
			IsDir: info.IsDir(),
			Size:  size,
		})
	}
	// Directories first, then files, both alphabetically
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})

	parent := ""
	if rel != "" {
		parent = filepath.Dir(rel)
		if parent == "." {
			parent = ""
		}
	}

	return c.Render(http.StatusOK, "list.html", listPage{
		Root:    filepath.Base(s.root),
		Path:    rel,
		Parent:  parent,
		Entries: entries,
	})
}

func (s *Server) handleFile(c echo.Context) error {
	reqPath := c.QueryParam("path")
	full, err := s.safePath(reqPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound, "not a file")
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "cannot read file")
	}
	truncated := false
	if len(data) > maxViewBytes {
		data = data[:maxViewBytes]
		truncated = true
	}

	var body template.HTML
	if strings.EqualFold(filepath.Ext(full), ".md") {
		body, err = s.renderMarkdown(data)
	} else {
		body, err = highlight(string(data), filepath.Base(full))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render file")
	}
	if truncated {
		body += template.HTML("<p><em>… truncated</em></p>")
	}

	rel, _ := filepath.Rel(s.root, full)
	return c.Render(http.StatusOK, "file.html", filePage{
		Root:    filepath.Base(s.root),
		Path:    rel,
		Content: body,
	})
}

func (s *Server) handleDiff(c echo.Context) error {
	cmd := exec.CommandContext(c.Request().Context(), "git", "-C", s.root, "diff")
	out, err := cmd.Output()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "git diff failed")
	}

	var body template.HTML
	if len(bytes.TrimSpace(out)) == 0 {
		body = "<p><em>工作区没有未提交的修改</em></p>"
	} else {
		body, err = highlight(string(out), "changes.diff")
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to render diff")
		}
	}

	return c.Render(http.StatusOK, "file.html", filePage{
		Root:    filepath.Base(s.root),
		Path:    "git diff",
		Content: body,
	})
}

func (s *Server) renderMarkdown(data []byte) (template.HTML, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert(data, &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// highlight renders source through chroma, picking the lexer from the file
// name and falling back to a plain <pre> block.
func highlight(source, filename string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := quick.Highlight(&buf, source, filename, "html", chromaStyle); err != nil {
		escaped := template.HTMLEscapeString(source)
		return template.HTML("<pre>" + escaped + "</pre>"), nil
	}
	return template.HTML(buf.String()), nil
}
