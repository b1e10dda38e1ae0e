// Package httpapi maps the htsget HTTP surface onto the search core: it
// parses and validates protocol parameters into a query, runs the resolver
// chain and the format engines, and renders tickets and error envelopes as
// htsget JSON.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/htsget-community/htsget-server/internal/engine"
	"github.com/htsget-community/htsget-server/internal/format"
	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/htslog"
	"github.com/htsget-community/htsget-server/internal/metrics"
	"github.com/htsget-community/htsget-server/internal/query"
	"github.com/htsget-community/htsget-server/internal/resolver"
)

// Endpoint distinguishes the reads and variants halves of the htsget
// surface; each accepts only its own formats.
type Endpoint string

// The two htsget endpoints.
const (
	EndpointReads    Endpoint = "reads"
	EndpointVariants Endpoint = "variants"
)

// formatsFor lists the formats an endpoint serves, in the order service-info
// advertises them.
func formatsFor(endpoint Endpoint) []query.Format {
	if endpoint == EndpointReads {
		return []query.Format{query.BAM, query.CRAM}
	}
	return []query.Format{query.VCF, query.BCF}
}

// Handler serves the htsget protocol endpoints.
type Handler struct {
	logger  *logrus.Logger
	chain   resolver.Chain
	engines engine.Registry
	info    ServiceInfo
}

// New constructs a Handler.
func New(logger *logrus.Logger, chain resolver.Chain, engines engine.Registry, info ServiceInfo) *Handler {
	return &Handler{logger: logger, chain: chain, engines: engines, info: info}
}

// Register installs the htsget routes on router. IDs may contain slashes,
// so each endpoint is a single catch-all route; the reserved id
// "service-info" is dispatched to the descriptor handler inside it (gin's
// router does not allow a static sibling next to a catch-all).
func (h *Handler) Register(router *gin.Engine) {
	router.Use(forwardOrigin())

	for _, endpoint := range []Endpoint{EndpointReads, EndpointVariants} {
		endpoint := endpoint
		group := router.Group("/" + string(endpoint))
		group.GET("/*id", h.serveGet(endpoint))
		group.POST("/*id", h.servePost(endpoint))
	}
}

// forwardOrigin reflects the request's Origin header into the response, the
// permissive CORS posture a public ticket endpoint needs.
func forwardOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Next()
	}
}

func (h *Handler) serveGet(endpoint Endpoint) gin.HandlerFunc {
	serviceInfo := h.serveServiceInfo(endpoint)
	return func(c *gin.Context) {
		id := strings.TrimPrefix(c.Param("id"), "/")
		if id == "service-info" {
			serviceInfo(c)
			return
		}
		q, err := parseGetQuery(id, endpoint, c.Request.URL.Query())
		if err != nil {
			h.writeError(c, endpoint, err)
			return
		}
		h.search(c, endpoint, []*query.Query{q})
	}
}

func (h *Handler) servePost(endpoint Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimPrefix(c.Param("id"), "/")
		queries, err := parsePostBody(id, endpoint, c.Request.Body)
		if err != nil {
			h.writeError(c, endpoint, err)
			return
		}
		h.search(c, endpoint, queries)
	}
}

// search resolves and runs one query per requested region and combines the
// per-region tickets into a single response.
func (h *Handler) search(c *gin.Context, endpoint Endpoint, queries []*query.Query) {
	ctx, entry := htslog.WithRequest(c.Request.Context(), h.logger, logrus.Fields{
		"endpoint": string(endpoint),
		"id":       queries[0].ID,
		"format":   string(queries[0].Format),
	})

	responses := make([]*format.Response, 0, len(queries))
	for _, q := range queries {
		backend, key, matched := h.chain.Resolve(q)
		if !matched {
			h.writeError(c, endpoint, htserror.Missing("resolving id", fmt.Errorf("no resolver matched id %q", q.ID)))
			return
		}
		entry.WithField("key", key).Debug("resolved query")

		response, err := h.engines.Search(ctx, backend, key, q)
		if err != nil {
			entry.WithError(err).Warn("search failed")
			h.writeError(c, endpoint, err)
			return
		}
		responses = append(responses, response)
	}

	response := combineResponses(responses)
	metrics.Requests.WithLabelValues(string(queries[0].Format), string(endpoint), "ok").Inc()
	entry.WithField("urls", len(response.Urls)).Debug("request served")
	c.JSON(http.StatusOK, format.Envelope{Htsget: *response})
}

// combineResponses merges per-region tickets into one. The first response
// contributes the header URLs and the trailing inline EOF marker; body URLs
// from every response are concatenated in region order with exact duplicates
// dropped, so overlapping regions do not fetch the same range twice.
func combineResponses(responses []*format.Response) *format.Response {
	if len(responses) == 1 {
		return responses[0]
	}

	combined := &format.Response{Format: responses[0].Format}
	var trailing []format.Url
	seen := make(map[string]bool)

	for i, r := range responses {
		for _, u := range r.Urls {
			switch {
			case u.Class == format.ClassHeader:
				if i == 0 {
					combined.Urls = append(combined.Urls, u)
				}
			case strings.HasPrefix(u.URL, "data:"):
				if i == 0 {
					trailing = append(trailing, u)
				}
			default:
				fingerprint := u.URL + "\x00" + u.Headers["Range"]
				if seen[fingerprint] {
					continue
				}
				seen[fingerprint] = true
				combined.Urls = append(combined.Urls, u)
			}
		}
	}
	return &format.Response{Format: combined.Format, Urls: append(combined.Urls, trailing...)}
}

// errInvalidClass is reported for a class parameter other than "body" or
// "header".
var errInvalidClass = errors.New(`class must be "body" or "header"`)

// parseFormat validates the format parameter against the endpoint's formats.
// Omission is InvalidInput; a known format on the wrong endpoint is
// UnsupportedFormat.
func parseFormat(raw string, endpoint Endpoint) (query.Format, error) {
	if raw == "" {
		return "", htserror.Invalid("parsing format", fmt.Errorf("format is required"))
	}
	f, err := query.ParseFormat(strings.ToUpper(raw))
	if err != nil {
		return "", htserror.Unsupported("parsing format", err)
	}
	for _, allowed := range formatsFor(endpoint) {
		if f == allowed {
			return f, nil
		}
	}
	return "", htserror.Unsupported("parsing format", fmt.Errorf("format %q is not served by the %s endpoint", f, endpoint))
}

func parseClass(raw string) (query.Class, error) {
	switch strings.ToLower(raw) {
	case "":
		return query.BODY, nil
	case string(query.BODY):
		return query.BODY, nil
	case string(query.HEADER):
		return query.HEADER, nil
	default:
		return "", htserror.Invalid("parsing class", errInvalidClass)
	}
}

func parseCoordinate(name, raw string) (*uint32, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, htserror.Invalid("parsing "+name, err)
	}
	coord := uint32(v)
	return &coord, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// parseGetQuery translates GET query parameters into a validated Query.
// Interval errors where start exceeds end surface as InvalidRange, matching
// the htsget error taxonomy; every other shape problem is InvalidInput.
func parseGetQuery(id string, endpoint Endpoint, params map[string][]string) (*query.Query, error) {
	get := func(name string) string {
		if v, ok := params[name]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	f, err := parseFormat(get("format"), endpoint)
	if err != nil {
		return nil, err
	}
	class, err := parseClass(get("class"))
	if err != nil {
		return nil, err
	}
	start, err := parseCoordinate("start", get("start"))
	if err != nil {
		return nil, err
	}
	end, err := parseCoordinate("end", get("end"))
	if err != nil {
		return nil, err
	}

	q := &query.Query{
		ID:     id,
		Format: f,
		Class:  class,
		Fields: splitList(get("fields")),
		Tags:   splitList(get("tags")),
		NoTags: splitList(get("notags")),
		Interval: query.Interval{
			Start: start,
			End:   end,
		},
	}
	if name := get("referenceName"); name != "" {
		q.ReferenceName = &name
	}
	return q, validated(q)
}

// validated wraps Query.Validate, classifying inverted intervals as
// InvalidRange and everything else as InvalidInput.
func validated(q *query.Query) error {
	err := q.Validate()
	if err == nil {
		return nil
	}
	if q.Interval.Start != nil && q.Interval.End != nil && *q.Interval.Start > *q.Interval.End {
		return htserror.InvalidRegion("validating interval", err)
	}
	return htserror.Invalid("validating query", err)
}

// writeError renders err as the htsget error envelope with the HTTP status
// its kind maps to.
func (h *Handler) writeError(c *gin.Context, endpoint Endpoint, err error) {
	he, ok := htserror.As(err)
	if !ok {
		he = htserror.Internal("handling request", err)
	}

	metrics.Requests.WithLabelValues("", string(endpoint), string(he.Kind)).Inc()
	c.JSON(statusFor(he.Kind), gin.H{
		"htsget": gin.H{
			"error":   string(he.Kind),
			"message": messageFor(he),
		},
	})
}

func statusFor(kind htserror.Kind) int {
	switch kind {
	case htserror.InvalidInput, htserror.UnsupportedFormat, htserror.InvalidRange:
		return http.StatusBadRequest
	case htserror.InvalidAuthentication:
		return http.StatusUnauthorized
	case htserror.PermissionDenied:
		return http.StatusForbidden
	case htserror.NotFound:
		return http.StatusNotFound
	case htserror.PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// messageFor builds the human-readable envelope message. Client-side errors
// include the cause, which describes the client's own input; server-side
// errors report only the operation that failed, never raw index bytes or
// storage paths.
func messageFor(he *htserror.Error) string {
	switch he.Kind {
	case htserror.InvalidInput, htserror.UnsupportedFormat, htserror.InvalidRange:
		if cause := he.Unwrap(); cause != nil {
			return fmt.Sprintf("%s: %v", he.Message, cause)
		}
		return he.Message
	default:
		return he.Message
	}
}
