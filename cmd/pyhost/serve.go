package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/pyhost/executor"
	"github.com/caffeineduck/pyhost/hostfunc"
	"github.com/caffeineduck/pyhost/internal/metrics"
	"github.com/caffeineduck/pyhost/language/python"
	"github.com/caffeineduck/pyhost/page"
	"github.com/go-http-utils/etag"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory, rendering its pages on request",
	Long: `Start an HTTP server for a site directory. Requests for .html pages are
rendered: their <py-script> blocks run and the response carries the result.
Other files are served as they are.

Endpoints:
  GET    /<path>     Site file, .html rendered
  POST   /execute    Execute code, returns {"output","display","duration_ms","error"}
  GET    /metrics    Prometheus metrics
  GET    /health     Health check`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("dir", ".", "Site directory to serve")
	rootCmd.AddCommand(serveCmd)
}

type executeRequest struct {
	Code    string `json:"code"`
	Timeout string `json:"timeout,omitempty"`
}

type executeResponse struct {
	Output     string `json:"output"`
	Display    string `json:"display,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type server struct {
	dir      string
	renderer *page.Renderer
	exec     *executor.Executor
	module   executor.Module
	sessOpts []executor.SessionOption
	metrics  *metrics.Metrics
	logger   *log.Entry
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/execute", s.handleExecute)
	mux.Handle("/", etag.Handler(http.HandlerFunc(s.handleSite), false))
	return mux
}

func (s *server) handleSite(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		name = path.Join(name, "index.html")
	}
	if path.Ext(name) != ".html" {
		http.FileServer(http.Dir(s.dir)).ServeHTTP(w, r)
		return
	}

	f, err := http.Dir(s.dir).Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	logger := s.logger.WithField("path", name)
	p, err := s.renderer.Render(r.Context(), f, filepath.Join(s.dir, filepath.FromSlash(name)))
	if err != nil {
		logger.WithError(err).Error("render failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if p.Err != nil {
		logger.WithError(p.Err).Warn("page rendered with errors")
	}

	var buf bytes.Buffer
	if err := p.Document.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	var display bytes.Buffer
	opts := append([]executor.SessionOption{}, s.sessOpts...)
	opts = append(opts, executor.WithSessionHostFunc("display", hostfunc.NewTextDisplay(&display)))

	s.metrics.SessionOpened()
	result := s.exec.Run(ctx, python.New(), s.module, req.Code, consoleTarget, opts...)
	s.metrics.SessionClosed()
	s.metrics.RecordScript(result.Error, result.Duration)

	resp := executeResponse{
		Output:     result.Output,
		Display:    display.String(),
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		resp.Error = result.Error.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	dir, _ := cmd.Flags().GetString("dir")

	fetcher := newFetcher(cmd)
	mod := defaultModule(cmd, fetcher)

	exec, err := newExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	m := metrics.New()
	s := &server{
		dir:      dir,
		renderer: newRenderer(cmd, exec, m),
		exec:     exec,
		module:   mod,
		sessOpts: sessionOptions(cmd),
		metrics:  m,
		logger:   log.WithField("component", "server"),
	}

	addr := fmt.Sprintf(":%d", port)
	s.logger.WithFields(log.Fields{"addr": addr, "dir": dir}).Info("pyhost server listening")
	return http.ListenAndServe(addr, s.handler())
}
