package httpapi

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/htsget-community/htsget-server/internal/htserror"
	"github.com/htsget-community/htsget-server/internal/query"
)

// postBody is the JSON request body accepted by the POST endpoints. It
// carries the same parameters as the GET query string, plus a regions list
// that fans out into one search per region.
type postBody struct {
	Format  string       `json:"format"`
	Class   string       `json:"class"`
	Fields  []string     `json:"fields"`
	Tags    []string     `json:"tags"`
	NoTags  []string     `json:"notags"`
	Regions []postRegion `json:"regions"`
}

type postRegion struct {
	ReferenceName string  `json:"referenceName"`
	Start         *uint32 `json:"start"`
	End           *uint32 `json:"end"`
}

// parsePostBody decodes a POST request body into one validated Query per
// requested region (or a single whole-file Query when no regions are given).
// The body is decoded by hand rather than through the router's binding so a
// malformed body produces the htsget InvalidInput envelope, not a framework
// error page.
func parsePostBody(id string, endpoint Endpoint, body io.Reader) ([]*query.Query, error) {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	var parsed postBody
	if err := decoder.Decode(&parsed); err != nil {
		return nil, htserror.Invalid("decoding request body", err)
	}

	f, err := parseFormat(parsed.Format, endpoint)
	if err != nil {
		return nil, err
	}
	class, err := parseClass(parsed.Class)
	if err != nil {
		return nil, err
	}
	if class == query.HEADER && len(parsed.Regions) > 0 {
		return nil, htserror.Invalid("validating query", fmt.Errorf("header class request may not specify regions"))
	}

	base := query.Query{
		ID:     id,
		Format: f,
		Class:  class,
		Fields: parsed.Fields,
		Tags:   parsed.Tags,
		NoTags: parsed.NoTags,
	}

	if len(parsed.Regions) == 0 {
		q := base
		return []*query.Query{&q}, validated(&q)
	}

	queries := make([]*query.Query, 0, len(parsed.Regions))
	for i := range parsed.Regions {
		region := parsed.Regions[i]
		q := base
		if region.ReferenceName != "" {
			q.ReferenceName = &region.ReferenceName
		}
		q.Interval = query.Interval{Start: region.Start, End: region.End}
		if err := validated(&q); err != nil {
			return nil, err
		}
		queries = append(queries, &q)
	}
	return queries, nil
}
