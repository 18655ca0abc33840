package hub

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/dronehub/internal/hive"
	"github.com/zulandar/dronehub/internal/repo"
	"github.com/zulandar/dronehub/internal/runtime"
)

// respondErr maps domain errors onto HTTP status codes and the
// {ok:false, error, code?} error body. Structured errors carry a
// machine-readable code alongside the message.
func respondErr(c *gin.Context, err error) {
	var conflict *repo.ConflictError
	var rolledBack *hive.RolledBackError
	var compFailed *hive.CompensationError

	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"ok":            false,
			"error":         conflict.Error(),
			"code":          repo.ConflictCode,
			"patchName":     conflict.PatchName,
			"conflictFiles": conflict.ConflictFiles,
		})
	case errors.As(err, &compFailed):
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":    false,
			"error": err.Error(),
			"code":  "compensation_failed",
		})
	case errors.As(err, &rolledBack):
		c.JSON(http.StatusBadGateway, gin.H{
			"ok":    false,
			"error": err.Error(),
			"code":  "rolled_back",
		})
	case errors.Is(err, hive.ErrInvalidName),
		errors.Is(err, hive.ErrReservedName),
		errors.Is(err, hive.ErrNoRepo):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, hive.ErrDroneNotFound),
		errors.Is(err, hive.ErrGroupNotFound),
		errors.Is(err, runtime.ErrContainerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, hive.ErrDroneExists),
		errors.Is(err, hive.ErrGroupExists):
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
	case errors.Is(err, runtime.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
	}
}
