package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
)

const maxModelBytes = 1 << 20

func (a *api) loadModel(c *gin.Context) {
	m, err := a.models.Load(c.Request.Context(), c.Param("productKey"))
	if err != nil {
		a.writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// saveModel stores the CPM document in the body under :productKey. The
// document goes through the same schema and invariant checks as stored
// blobs.
func (a *api) saveModel(c *gin.Context) {
	doc, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxModelBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "invalid_request_body", "detail": err.Error()})
		return
	}
	m, err := cpm.Parse(doc)
	if err != nil {
		a.writeModelError(c, err)
		return
	}
	saved, err := a.models.Save(c.Request.Context(), c.Param("productKey"), m)
	if err != nil {
		a.writeModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (a *api) writeModelError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cpm.ErrInvalidModel):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_model", "detail": err.Error()})
	case errors.Is(err, cpm.ErrNoProcessModel):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_process_model", "detail": err.Error()})
	default:
		a.log.WithError(err).WithField("product_key", c.Param("productKey")).Error("api: process model store failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_failure", "detail": err.Error()})
	}
}
