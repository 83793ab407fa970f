package http

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/engine"
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/logging"
)

// handleHealth reports liveness and index size.
func (s *Server) handleHealth(c echo.Context) error {
	seqs, segs := s.index.Stats()
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Sequences: seqs,
		Segments:  segs,
	}
	if s.health != nil {
		th := s.health()
		resp.Telemetry = &th
		if th.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSequences(c echo.Context) error {
	seqs := s.index.AllSequences()
	if seqs == nil {
		seqs = []index.Sequence{}
	}
	return c.JSON(http.StatusOK, SequencesResponse{Sequences: seqs, Count: len(seqs)})
}

func (s *Server) handleGetSequence(c echo.Context) error {
	seq, err := s.index.GetSequence(c.Param("id"))
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, seq)
}

func (s *Server) handleSequenceSegments(c echo.Context) error {
	segs, err := s.index.SequenceSegments(c.Param("id"))
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, newSegmentsResponse(segs))
}

func (s *Server) handleGetSegment(c echo.Context) error {
	seg, err := s.index.GetSegment(c.Param("id"))
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, seg)
}

func (s *Server) handleNextSegment(c echo.Context) error {
	seg, ok, err := s.index.NextSegment(c.Param("id"))
	return neighbour(c, seg, ok, err)
}

func (s *Server) handlePreviousSegment(c echo.Context) error {
	seg, ok, err := s.index.PreviousSegment(c.Param("id"))
	return neighbour(c, seg, ok, err)
}

func neighbour(c echo.Context, seg index.Segment, ok bool, err error) error {
	if err != nil {
		return apiError(err)
	}
	var resp NeighbourResponse
	if ok {
		resp.Segment = &seg
	}
	return c.JSON(http.StatusOK, resp)
}

// handleFindSegments maps query parameters onto engine filters. Every given
// parameter must match.
func (s *Server) handleFindSegments(c echo.Context) error {
	filters, err := filtersFromQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSegmentsResponse(s.index.FindSegments(filters...)))
}

func filtersFromQuery(c echo.Context) ([]engine.Filter, error) {
	var filters []engine.Filter
	if v := c.QueryParam("participant"); v != "" {
		filters = append(filters, engine.ParticipantFilter{Name: v})
	}
	if v := c.QueryParam("keyword"); v != "" {
		filters = append(filters, engine.KeywordFilter{Keyword: v})
	}
	if v := c.QueryParam("source"); v != "" {
		filters = append(filters, engine.SourceFilter{Path: v})
	}
	if v := c.QueryParam("text"); v != "" {
		filters = append(filters, engine.TextFilter{Query: v})
	}

	after, err := queryTime(c, "after")
	if err != nil {
		return nil, err
	}
	before, err := queryTime(c, "before")
	if err != nil {
		return nil, err
	}
	if !after.IsZero() || !before.IsZero() {
		if !after.IsZero() && !before.IsZero() && !after.Before(before) {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "after must be earlier than before")
		}
		filters = append(filters, engine.TimeRangeFilter{After: after, Before: before})
	}
	return filters, nil
}

func queryTime(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" must be an RFC3339 timestamp")
	}
	return t, nil
}

func newSegmentsResponse(segs []index.Segment) SegmentsResponse {
	if segs == nil {
		segs = []index.Segment{}
	}
	return SegmentsResponse{Segments: segs, Count: len(segs)}
}

// handleReindex indexes or re-indexes one file.
func (s *Server) handleReindex(c echo.Context) error {
	var req ReindexRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid reindex request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	path, err := sourcePath(req.Path)
	if err != nil {
		return err
	}

	ctx := logging.WithSource(c.Request().Context(), path)
	res, err := s.index.IndexFile(ctx, path)
	if res == nil {
		logFailure(ctx, "reindex failed", err)
		return apiError(err)
	}

	// A result alongside an error means the change is committed and only
	// event delivery failed.
	return c.JSON(http.StatusOK, ReindexResponse{
		Sequence: *res.Sequence,
		Created:  res.Created,
		Changes:  countChanges(res.Changes),
		Warning:  warningFor(err),
	})
}

// handleRemoveSource drops the sequence of ?path=.
func (s *Server) handleRemoveSource(c echo.Context) error {
	path, err := sourcePath(c.QueryParam("path"))
	if err != nil {
		return err
	}

	ctx := logging.WithSource(c.Request().Context(), path)
	seq, err := s.index.RemoveSource(ctx, path)
	if seq == nil {
		logFailure(ctx, "remove source failed", err)
		return apiError(err)
	}
	return c.JSON(http.StatusOK, RemoveResponse{Sequence: *seq, Warning: warningFor(err)})
}

// sourcePath requires a path and makes it absolute so it resolves to the
// same sequence id as the watcher and the CLI.
func sourcePath(p string) (string, error) {
	if p == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path")
	}
	return abs, nil
}

func logFailure(ctx context.Context, msg string, err error) {
	log := logging.FromContext(ctx)
	if statusFor(err) >= http.StatusInternalServerError {
		log.Error(ctx, msg, zap.Error(err))
		return
	}
	log.Debug(ctx, msg, zap.Error(err))
}
