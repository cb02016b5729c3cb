package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	resourcedomain "github.com/smallbiznis/telemetry/internal/resource/domain"
	sampledomain "github.com/smallbiznis/telemetry/internal/sample/domain"
	"github.com/smallbiznis/telemetry/internal/sample/validator"
)

const (
	opEq = "eq"
	opGt = "gt"
	opGe = "ge"
	opLt = "lt"
	opLe = "le"
)

// queryTerm is one q.field/q.op/q.value triple.
type queryTerm struct {
	Field string
	Op    string
	Value string
}

// parseQuery zips the repeated q.field, q.op and q.value parameters. q.op may be
// omitted entirely or per term, in which case eq is assumed.
func parseQuery(c *gin.Context) ([]queryTerm, error) {
	fields := c.QueryArray("q.field")
	values := c.QueryArray("q.value")
	ops := c.QueryArray("q.op")

	if len(fields) != len(values) {
		return nil, newValidationError("q", "mismatch", "q.field and q.value must be paired")
	}
	if len(ops) > len(fields) {
		return nil, newValidationError("q.op", "mismatch", "more q.op than q.field")
	}

	terms := make([]queryTerm, 0, len(fields))
	for i, field := range fields {
		op := opEq
		if i < len(ops) && strings.TrimSpace(ops[i]) != "" {
			op = strings.ToLower(strings.TrimSpace(ops[i]))
		}
		terms = append(terms, queryTerm{
			Field: strings.TrimSpace(field),
			Op:    op,
			Value: values[i],
		})
	}
	return terms, nil
}

func resourceFilterFromQuery(c *gin.Context) (resourcedomain.Filter, error) {
	terms, err := parseQuery(c)
	if err != nil {
		return resourcedomain.Filter{}, err
	}

	var filter resourcedomain.Filter
	for _, term := range terms {
		if term.Op != opEq {
			return filter, unsupportedOp(term)
		}
		switch term.Field {
		case "resource_id", "resource":
			filter.ResourceID = term.Value
		case "project_id", "project":
			filter.ProjectID = term.Value
		case "user_id", "user":
			filter.UserID = term.Value
		case "source":
			filter.Source = term.Value
		default:
			return filter, unknownField(term)
		}
	}
	return filter, nil
}

func sampleFilterFromQuery(c *gin.Context, counterName string) (sampledomain.Filter, error) {
	filter := sampledomain.Filter{CounterName: counterName}

	terms, err := parseQuery(c)
	if err != nil {
		return filter, err
	}
	for _, term := range terms {
		if term.Field == "timestamp" {
			if err := applyTimestampTerm(&filter, term); err != nil {
				return filter, err
			}
			continue
		}
		if term.Op != opEq {
			return filter, unsupportedOp(term)
		}
		switch term.Field {
		case "resource_id", "resource":
			filter.ResourceID = term.Value
		case "project_id", "project":
			filter.ProjectID = term.Value
		case "user_id", "user":
			filter.UserID = term.Value
		case "source":
			filter.Source = term.Value
		default:
			return filter, unknownField(term)
		}
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func applyTimestampTerm(filter *sampledomain.Filter, term queryTerm) error {
	ts, err := validator.ParseTimestamp(term.Value)
	if err != nil {
		return newValidationError("timestamp", "invalid_value", "timestamp must be ISO-8601")
	}
	switch term.Op {
	case opGt, opGe:
		filter.Start, filter.StartOp = &ts, term.Op
	case opLt, opLe:
		filter.End, filter.EndOp = &ts, term.Op
	case opEq:
		end := ts.Add(time.Nanosecond)
		filter.Start, filter.StartOp = &ts, opGe
		filter.End, filter.EndOp = &end, opLt
	default:
		return unsupportedOp(term)
	}
	return nil
}

func parseLimit(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(trimmed)
	if err != nil || limit <= 0 {
		return 0, newValidationError("limit", "invalid_value", "limit must be a positive integer")
	}
	return limit, nil
}

// parseDirect accepts the spellings strconv.ParseBool does, including "True".
func parseDirect(value string) (bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false, nil
	}
	direct, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, newValidationError("direct", "invalid_value", "direct must be a boolean")
	}
	return direct, nil
}

func unsupportedOp(term queryTerm) error {
	return newValidationError("q.op", "invalid_value", fmt.Sprintf("operator %q is not supported for %s", term.Op, term.Field))
}

func unknownField(term queryTerm) error {
	return newValidationError("q.field", "invalid_value", fmt.Sprintf("unknown query field %q", url.QueryEscape(term.Field)))
}
