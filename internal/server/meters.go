package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/telemetry/internal/observability/context"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/smallbiznis/telemetry/internal/sample/validator"
)

const maxIngestBody = 8 << 20

// Numbers stay json.Number so volumes keep their precision until validation.
var payloadAPI = sonic.Config{UseNumber: true}.Froze()

func (s *Server) IngestSamples(c *gin.Context) {
	counterName := strings.TrimSpace(c.Param("counter_name"))
	if counterName == "" {
		AbortWithError(c, sampledomain.ErrInvalidCounterName)
		return
	}
	c.Set(obscontext.KeyCounterName, counterName)

	direct, err := parseDirect(c.Query("direct"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(obscontext.KeyDirect, direct)

	raws, err := decodeSamples(http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(obscontext.KeyBatchSize, len(raws))

	projectID := ingestProjectID(c, raws)
	if projectID != "" {
		c.Request = c.Request.WithContext(obscontext.WithProjectID(c.Request.Context(), projectID))
	}
	if !s.admitIngest(c, projectID, counterName) {
		return
	}

	stored, err := s.sampleSvc.Ingest(c.Request.Context(), sampledomain.IngestRequest{
		CounterName: counterName,
		Direct:      direct,
		Samples:     raws,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set(obscontext.KeyAccepted, len(stored))
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) ListMeters(c *gin.Context) {
	filter, err := resourceFilterFromQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	meters, err := s.resourceSvc.ListMeters(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, meters)
}

func (s *Server) ListSamples(c *gin.Context) {
	counterName := strings.TrimSpace(c.Param("counter_name"))
	c.Set(obscontext.KeyCounterName, counterName)

	filter, err := sampleFilterFromQuery(c, counterName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	samples, err := s.sampleSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, samples)
}

func (s *Server) GetStatistics(c *gin.Context) {
	counterName := strings.TrimSpace(c.Param("counter_name"))
	c.Set(obscontext.KeyCounterName, counterName)

	filter, err := sampleFilterFromQuery(c, counterName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filter.Limit = 0

	stats, err := s.sampleSvc.Statistics(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := []sampledomain.Statistics{}
	if stats.Count > 0 {
		out = append(out, stats)
	}
	c.JSON(http.StatusOK, out)
}

// decodeSamples accepts a JSON array of sample objects, or a single object.
func decodeSamples(body io.Reader) ([]sampledomain.RawSample, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, newValidationError("request", "too_large", "request body too large")
		}
		return nil, invalidRequestError()
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, newValidationError("request", validator.CodeEmpty, "request body is empty")
	}

	var payload any
	if err := payloadAPI.Unmarshal(data, &payload); err != nil {
		return nil, newValidationError("request", "invalid_json", "request body is not valid JSON")
	}

	switch v := payload.(type) {
	case map[string]any:
		return []sampledomain.RawSample{v}, nil
	case []any:
		raws := make([]sampledomain.RawSample, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &validator.ValidationError{Index: i, Field: "sample", Code: validator.CodeInvalidType, Err: sampledomain.ErrInvalidType}
			}
			raws = append(raws, obj)
		}
		return raws, nil
	default:
		return nil, newValidationError("request", validator.CodeInvalidType, "request body must be an array of samples")
	}
}

// ingestProjectID prefers the authenticated project header and falls back to
// the first sample's project_id.
func ingestProjectID(c *gin.Context, raws []sampledomain.RawSample) string {
	if projectID := strings.TrimSpace(c.GetHeader("X-Project-Id")); projectID != "" {
		return projectID
	}
	if len(raws) == 0 {
		return ""
	}
	projectID, _ := raws[0]["project_id"].(string)
	return strings.TrimSpace(projectID)
}
