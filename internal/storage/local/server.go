package local

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// DataHandler returns a gin handler that serves byte ranges requested via a
// standard Range header against files rooted at b.Root. This is the paired
// data server a local ticket URL points back at.
func (b *Backend) DataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")

		path, err := b.resolve(key)
		if err != nil {
			c.String(http.StatusForbidden, "key escapes storage root")
			return
		}

		f, err := os.Open(path)
		if err != nil {
			c.String(http.StatusNotFound, "object not found")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			c.String(http.StatusInternalServerError, "stat failed")
			return
		}

		c.Header("Content-Type", "application/octet-stream")
		http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
	}
}
