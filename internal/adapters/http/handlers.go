package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/pipeline"
	"github.com/intervue/interview-rtc/internal/signaling"
	"github.com/intervue/interview-rtc/internal/streaming"
)

type Handlers struct {
	Deps
}

// Health reports service status plus live component stats.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"signaling":   h.Coord.Sessions.Stats(),
		"streaming":   h.Coord.Recorder.Stats(),
		"pipeline":    h.Coord.Pipeline.Stats(),
		"credentials": h.ICE.ActiveCount(),
	})
}

// ICEConfig hands the client its STUN list and, when TURN is
// configured, a fresh ephemeral credential pair.
func (h *Handlers) ICEConfig(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = c.GetString("client_token")
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"config":  h.ICE.ServerConfig(userID),
	})
}

func (h *Handlers) TestConnectivity(c *gin.Context) {
	results := h.ICE.TestConnectivity(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": results,
	})
}

func (h *Handlers) CreateSession(c *gin.Context) {
	id, err := h.Coord.Sessions.Create()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{"code": signaling.CodeFor(err), "message": err.Error()},
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": id})
}

func (h *Handlers) SessionInfo(c *gin.Context) {
	id := domain.SessionID(c.Param("sessionId"))
	snap, err := h.Coord.Sessions.Info(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{"code": signaling.CodeSessionNotFound, "message": err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": snap,
		"results": h.Coord.Results(id),
	})
}

// IngestChunk accepts one media chunk as the raw request body.
// durationMs is required; caps and queue saturation come back as 4xx
// with the typed code so the sender knows to stop and finalize.
func (h *Handlers) IngestChunk(c *gin.Context) {
	id := domain.SessionID(c.Param("sessionId"))
	durationMs, err := strconv.ParseInt(c.Query("durationMs"), 10, 64)
	if err != nil || durationMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "BAD_REQUEST", "message": "durationMs query parameter required"},
		})
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "BAD_REQUEST", "message": "empty chunk body"},
		})
		return
	}

	chunk, err := h.Coord.IngestChunk(id, data, time.Duration(durationMs)*time.Millisecond)
	if err != nil {
		status, code := ingestErrorStatus(err)
		c.JSON(status, gin.H{
			"error": gin.H{"code": code, "message": err.Error()},
			"chunk": chunkOrNil(chunk),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chunk": chunk})
}

func chunkOrNil(chunk domain.Chunk) any {
	if chunk.Path == "" {
		return nil
	}
	return chunk
}

func ingestErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, streaming.ErrNotRecording):
		return http.StatusNotFound, "NOT_RECORDING"
	case errors.Is(err, streaming.ErrSizeLimit):
		return http.StatusRequestEntityTooLarge, "SIZE_LIMIT_EXCEEDED"
	case errors.Is(err, streaming.ErrDurationLimit):
		return http.StatusRequestEntityTooLarge, "DURATION_LIMIT_EXCEEDED"
	case errors.Is(err, streaming.ErrRecordingFailed):
		return http.StatusInternalServerError, "RECORDING_FAILED"
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusTooManyRequests, "QUEUE_FULL"
	case errors.Is(err, pipeline.ErrClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
