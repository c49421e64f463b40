// Package web implements the dashboard's HTTP+WS surface (spec.md §6): a
// thin external collaborator that reads a Report's already-computed state
// and renders it, contributing nothing non-trivial of its own. Grounded on
// cmd/autobuilder/autobuilder.go's own status server: a package-level
// html/template parsed once, a handful of http.HandleFunc registrations,
// and a struct wrapping the state the handlers close over instead of
// reading package globals.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/encukou/abi-checker/internal/report"
)

// Server renders one Report as a browsable matrix, per-run detail pages,
// per-case overviews, and a websocket completion feed.
type Server struct {
	Report *report.Report
	Log    *log.Logger
}

// New returns a Server wrapping rep, defaulting Log if absent.
func New(rep *report.Report, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{Report: rep, Log: logger}
}

// Handler builds the *http.ServeMux routing spec.md §6's surface:
//
//	GET /                                    whole matrix
//	GET /runs/<case>/<cb>/<opts>/<eb>/        one run detail
//	GET /runs/<case>/<cb>/<opts>/<eb>/icon/   tiny result glyph
//	GET /cases/<case>/                        per-case overview
//	WS  /ws/                                  subscribe to run completion
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveIndex)
	mux.HandleFunc("/runs/", s.serveRuns)
	mux.HandleFunc("/cases/", s.serveCase)
	mux.HandleFunc("/ws/", s.serveWS)
	return mux
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	rows, err := s.Report.Matrix(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	var cacheFree string
	if free, err := s.Report.CacheDiskSpace(); err == nil {
		cacheFree = formatBytes(free)
	} else {
		s.Log.Printf("cache disk space: %v", err)
	}
	if err := indexTmpl.Execute(w, struct {
		Rows      []report.MatrixRow
		CacheFree string
	}{Rows: rows, CacheFree: cacheFree}); err != nil {
		s.Log.Printf("rendering index: %v", err)
	}
}

// formatBytes renders n as a human GiB figure for the status page, the same
// unit cmd/autobuilder/autobuilder.go's serveStatusPage reports free space
// in.
func formatBytes(n uint64) string {
	const gib = 1 << 30
	return fmt.Sprintf("%.1f GiB", float64(n)/gib)
}

// serveRuns dispatches both "/runs/<case>/<cb>/<opts>/<eb>/" and its
// "/icon/" suffix, the two spec.md §6 endpoints that share a run key.
func (s *Server) serveRuns(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/runs/"))
	icon := false
	if n := len(parts); n > 0 && parts[n-1] == "icon" {
		icon = true
		parts = parts[:n-1]
	}
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	run, err := s.Report.RunByTags(r.Context(), parts[0], parts[1], parts[2], parts[3])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	result, resultErr := run.Result(r.Context())
	if icon {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(result.Glyph()))
		return
	}

	var cause string
	if err := run.Err(); err != nil {
		cause = err.Error()
	}
	if err := runTmpl.Execute(w, struct {
		CaseTag, CompileBuild, CompileOption, ExecBuild string
		Result                                          string
		Glyph                                            string
		Cause                                            string
		Err                                              error
	}{
		CaseTag:       parts[0],
		CompileBuild:  parts[1],
		CompileOption: parts[2],
		ExecBuild:     parts[3],
		Result:        result.String(),
		Glyph:         result.Glyph(),
		Cause:         cause,
		Err:           resultErr,
	}); err != nil {
		s.Log.Printf("rendering run detail: %v", err)
	}
}

func (s *Server) serveCase(w http.ResponseWriter, r *http.Request) {
	tag := strings.Trim(strings.TrimPrefix(r.URL.Path, "/cases/"), "/")
	if tag == "" {
		http.NotFound(w, r)
		return
	}
	var found bool
	for _, c := range s.Report.Cases() {
		if c.Tag == tag {
			found = true
			break
		}
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	rows, err := s.Report.Matrix(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	var caseRows []report.MatrixRow
	for _, row := range rows {
		if row.Case == tag {
			caseRows = append(caseRows, row)
		}
	}
	if err := caseTmpl.Execute(w, struct {
		Tag  string
		Rows []report.MatrixRow
	}{Tag: tag, Rows: caseRows}); err != nil {
		s.Log.Printf("rendering case overview: %v", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.Log.Printf("%v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// waitForRun blocks on one run key's Result, the work the /ws/ endpoint
// does per subscribed key (see ws.go).
func waitForRun(ctx context.Context, rep *report.Report, key string) error {
	parts := splitPath(key)
	if len(parts) != 4 {
		return errInvalidKey(key)
	}
	run, err := rep.RunByTags(ctx, parts[0], parts[1], parts[2], parts[3])
	if err != nil {
		return err
	}
	_, err = run.Result(ctx)
	return err
}

type errInvalidKey string

func (e errInvalidKey) Error() string { return "invalid run key: " + string(e) }
