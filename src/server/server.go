package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Protocol-Lattice/ragd/src/rag/chain"
	"github.com/Protocol-Lattice/ragd/src/rag/embed"
	"github.com/Protocol-Lattice/ragd/src/rag/ingest"
	"github.com/Protocol-Lattice/ragd/src/rag/memory"
	"github.com/Protocol-Lattice/ragd/src/rag/store"
)

const maxUploadBytes = 64 << 20

// Server exposes the retrieval engine over HTTP.
type Server struct {
	echo *echo.Echo

	ingest         *ingest.Pipeline
	chain          *chain.Pipeline
	memory         *memory.Store
	embedder       *embed.Client
	docs           store.VectorStore
	docsCollection string
	topK           int
}

// New wires the routes. Every dependency is required except topK, which
// falls back to the chain default.
func New(ing *ingest.Pipeline, ch *chain.Pipeline, mem *memory.Store, embedder *embed.Client, docs store.VectorStore, docsCollection string, topK int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		echo:           e,
		ingest:         ing,
		chain:          ch,
		memory:         mem,
		embedder:       embedder,
		docs:           docs,
		docsCollection: docsCollection,
		topK:           topK,
	}

	e.GET("/health", s.handleHealth)
	e.POST("/api/upload", s.handleUpload)
	e.POST("/api/chat", s.handleChat)
	e.POST("/api/search", s.handleSearch)
	e.GET("/api/topics", s.handleTopics)
	return s
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
	}
	if fh.Size > maxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file too large")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}

	stats, err := s.ingest.IngestFile(c.Request().Context(), fh.Filename, data)
	switch {
	case errors.Is(err, ingest.ErrUnsupportedType), errors.Is(err, ingest.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	answer, err := s.chain.Ask(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, answer)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}
	if topK <= 0 {
		topK = chain.DefaultTopK
	}

	ctx := c.Request().Context()
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	results, err := s.docs.Search(ctx, s.docsCollection, vec, topK, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if results == nil {
		results = []store.Result{}
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": results})
}

// handleTopics lists topics for one session, or every session when the
// session_id parameter is absent.
func (s *Server) handleTopics(c echo.Context) error {
	topics := s.memory.Topics(c.QueryParam("session_id"))
	if topics == nil {
		topics = []memory.Topic{}
	}
	return c.JSON(http.StatusOK, map[string]any{"topics": topics})
}
