package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehub/internal/storage/blob"
)

func (a *api) putBlob(kind blob.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := blob.ValidateIdentity(id); err != nil {
			a.failErr(c, "blob put", err)
			return
		}
		max := a.cfg.Storage.MaxUploadBytes
		if c.Request.ContentLength > max {
			fail(c, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		body := http.MaxBytesReader(c.Writer, c.Request.Body, max+1)
		n, err := a.deps.Blobs.Put(kind, id, body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				err = blob.ErrTooLarge
			}
			a.failErr(c, "blob put", err)
			return
		}
		a.logger.Info("blob uploaded",
			requestIDField(c),
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.Int64("bytes", n),
		)
		success(c, "stored "+strconv.FormatInt(n, 10)+" bytes")
	}
}

func (a *api) getBlob(kind blob.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, size, err := a.deps.Blobs.Get(kind, c.Param("id"))
		if err != nil {
			a.failErr(c, "blob get", err)
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, size, "application/octet-stream", rc, nil)
	}
}

func (a *api) deleteBlob(kind blob.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.deps.Blobs.Delete(kind, c.Param("id")); err != nil {
			a.failErr(c, "blob delete", err)
			return
		}
		success(c, "deleted")
	}
}
