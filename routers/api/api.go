package api

import (
	"errors"
	"net/http"

	"SceneForge-server/models"
	"SceneForge-server/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services are the orchestrator components the handlers call into.
type Services struct {
	Store       *service.Store
	Coordinator *service.Coordinator
	Poller      *service.Poller
	Gate        *service.Gate
	Hub         *service.Hub
	Logger      *zap.Logger
}

var svc *Services

// Init installs the services used by every handler in this package.
func Init(s *Services) {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	svc = s
}

// writeError maps orchestrator errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ve *service.ValidationError
	var pe *service.ProviderError
	switch {
	case errors.Is(err, service.ErrSceneNotFound), errors.Is(err, service.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ve):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSceneBusy),
		errors.Is(err, service.ErrStitchInFlight),
		errors.Is(err, service.ErrNotReady),
		errors.Is(err, service.ErrNotAssembling),
		errors.Is(err, service.ErrPromptsMissing),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.As(err, &pe), errors.Is(err, service.ErrRateLimited):
		status = http.StatusBadGateway
	case errors.Is(err, service.ErrNoPlanner):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		svc.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
