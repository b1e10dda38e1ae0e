package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceInfo is the static GA4GH service descriptor served at
// {reads,variants}/service-info. The htsget block's Formats field is filled
// per endpoint at serve time.
type ServiceInfo struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Version          string       `json:"version"`
	Organization     Organization `json:"organization"`
	Type             ServiceType  `json:"type"`
	ContactURL       string       `json:"contactUrl,omitempty"`
	DocumentationURL string       `json:"documentationUrl,omitempty"`
	CreatedAt        string       `json:"createdAt,omitempty"`
	UpdatedAt        string       `json:"updatedAt,omitempty"`
	Environment      string       `json:"environment,omitempty"`
	Htsget           HtsgetInfo   `json:"htsget"`
}

// Organization identifies the service operator.
type Organization struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ServiceType is the GA4GH service-registry type triple.
type ServiceType struct {
	Group    string `json:"group"`
	Artifact string `json:"artifact"`
	Version  string `json:"version"`
}

// HtsgetInfo is the htsget-specific block of the service descriptor.
type HtsgetInfo struct {
	Datatype                  string   `json:"datatype"`
	Formats                   []string `json:"formats"`
	FieldsParametersEffective bool     `json:"fieldsParametersEffective"`
	TagsParametersEffective   bool     `json:"tagsParametersEffective"`
}

// serveServiceInfo renders the descriptor for one endpoint: the reads
// endpoint advertises BAM and CRAM, the variants endpoint VCF and BCF. The
// fields/tags parameters are accepted but advisory, so both effective flags
// are false.
func (h *Handler) serveServiceInfo(endpoint Endpoint) gin.HandlerFunc {
	info := h.info
	info.Type = ServiceType{Group: "org.ga4gh", Artifact: "htsget", Version: "1.3.0"}
	info.Htsget = HtsgetInfo{Datatype: string(endpoint)}
	for _, f := range formatsFor(endpoint) {
		info.Htsget.Formats = append(info.Htsget.Formats, string(f))
	}

	return func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	}
}
