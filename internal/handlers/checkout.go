package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/session"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

// Checkout is the orchestrator surface served over HTTP.
type Checkout interface {
	Start(ctx context.Context, userID, productKey string) (*checkout.StartResult, error)
	Turn(ctx context.Context, userID, utterance string) (*checkout.TurnResult, error)
	Complete(ctx context.Context, userID string) (*checkout.CompleteResult, error)
	Cancel(ctx context.Context, userID string) (*checkout.CancelResult, error)
	Inspect(ctx context.Context, userID string) (*session.Session, error)
}

// Models is the process-model store behind the admin routes.
type Models interface {
	Load(ctx context.Context, productKey string) (*cpm.Model, error)
	Save(ctx context.Context, productKey string, m *cpm.Model) (*cpm.Model, error)
}

// IdempotencyStore remembers responses by Idempotency-Key.
type IdempotencyStore interface {
	Begin(ctx context.Context, key, fingerprint string) (bool, error)
	Retry(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Checkout Checkout
	Models   Models
	// Idempotency enables request replay on turn and complete; nil disables it.
	Idempotency IdempotencyStore
	Log         logrus.FieldLogger
}

type api struct {
	svc    Checkout
	models Models
	v      *validatorv10.Validate
	log    logrus.FieldLogger
}

// RegisterRoutes registers the checkout, process-model admin and chat
// routes under /v1.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	a := &api{
		svc:    cfg.Checkout,
		models: cfg.Models,
		v:      validation.New(),
		log:    logging.OrDiscard(cfg.Log),
	}
	replay := replayMiddleware(cfg.Idempotency, a.log)

	v1 := r.Group("/v1")
	{
		v1.POST("/checkout/start", a.start)
		v1.POST("/checkout/turn", replay, a.turn)
		v1.POST("/checkout/complete", replay, a.complete)
		v1.POST("/checkout/cancel", a.cancel)
		v1.GET("/checkout/:userId", a.inspect)

		v1.GET("/cpm/:productKey", a.loadModel)
		v1.PUT("/cpm/:productKey", a.saveModel)

		v1.GET("/chat/ws", a.chat)
	}
}

func (a *api) start(c *gin.Context) {
	var req validation.StartRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	res, err := a.svc.Start(c.Request.Context(), req.UserID, req.ProductKey)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.Header("Location", fmt.Sprintf("/v1/checkout/%s", req.UserID))
	c.JSON(http.StatusCreated, res)
}

func (a *api) turn(c *gin.Context) {
	var req validation.TurnRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	res, err := a.svc.Turn(c.Request.Context(), req.UserID, req.Utterance)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) complete(c *gin.Context) {
	var req validation.UserRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	res, err := a.svc.Complete(c.Request.Context(), req.UserID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) cancel(c *gin.Context) {
	var req validation.UserRequest
	if err := validation.BindAndValidate(c, &req, a.v); err != nil {
		return
	}
	res, err := a.svc.Cancel(c.Request.Context(), req.UserID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) inspect(c *gin.Context) {
	s, err := a.svc.Inspect(c.Request.Context(), c.Param("userId"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session", "detail": "user has no checkout session"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// errorStatus maps an orchestrator error to its HTTP status and the kind
// reported in the body.
func errorStatus(err error) (int, string) {
	switch kind := checkout.KindOf(err); kind {
	case checkout.KindNoProcessModel:
		return http.StatusNotFound, string(kind)
	case checkout.KindNoActiveSession, checkout.KindTurnInProgress:
		return http.StatusConflict, string(kind)
	case checkout.KindValidation:
		return http.StatusUnprocessableEntity, string(kind)
	case checkout.KindDeepLink:
		return http.StatusBadGateway, string(kind)
	case checkout.KindStoreFailure:
		return http.StatusServiceUnavailable, string(kind)
	case checkout.KindAgentNotRegistered:
		return http.StatusInternalServerError, string(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func (a *api) writeError(c *gin.Context, err error) {
	status, kind := errorStatus(err)
	if errors.Is(err, checkout.ErrTurnInProgress) {
		c.Header("Retry-After", "1")
	}
	entry := a.log.WithError(err).WithFields(logrus.Fields{"path": c.FullPath(), "kind": kind})
	if status >= http.StatusInternalServerError {
		entry.Error("api: request failed")
	} else {
		entry.Debug("api: request rejected")
	}
	c.JSON(status, gin.H{"error": kind, "detail": err.Error()})
}
