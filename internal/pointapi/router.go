package pointapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/pointledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	paramUserID     = "id"
	routeUnmatched  = "unmatched"

	errorCodeInvalidUserID       = "invalid_user_id"
	errorCodeInvalidAmount       = "invalid_amount"
	errorCodeInvalidPayload      = "invalid_payload"
	errorCodeInsufficientBalance = "insufficient_balance"
	errorCodeRequestCanceled     = "request_canceled"
	errorCodeStoreUnavailable    = "store_unavailable"
	errorCodeInternal            = "internal_error"

	messageInvalidUserID       = "user id must be a positive integer"
	messageInvalidAmount       = "amount must be a positive integer"
	messageInvalidPayload      = "request body must be a JSON object with an integer amount"
	messageInsufficientBalance = "balance is lower than the requested amount"
	messageRequestCanceled     = "request was canceled before it could be applied"
	messageStoreUnavailable    = "point storage is unavailable"
	messageInternal            = "internal error"
)

type balanceResponse struct {
	ID           int64 `json:"id"`
	Point        int64 `json:"point"`
	UpdateMillis int64 `json:"updateMillis"`
}

type historyResponse struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"userId"`
	Amount     int64  `json:"amount"`
	Type       string `json:"type"`
	TimeMillis int64  `json:"timeMillis"`
}

type amountRequest struct {
	Amount *int64 `json:"amount"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type httpHandler struct {
	logger  *zap.Logger
	service *ledger.Service
}

func setupRouter(cfg Config, handler *httpHandler, registry *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(handler.logger, registry))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPatch, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Origin", "Accept", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(registry.Handler()))

	points := router.Group("/point")
	points.Use(requestTimeoutMiddleware(cfg.RequestTimeout))
	points.GET("/:id", handler.handlePoint)
	points.GET("/:id/histories", handler.handleHistories)
	points.PATCH("/:id/charge", handler.handleCharge)
	points.PATCH("/:id/use", handler.handleUse)

	return router
}

func (handler *httpHandler) handlePoint(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	balance, err := handler.service.Get(ctx.Request.Context(), userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toBalanceResponse(balance))
}

func (handler *httpHandler) handleHistories(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	entries, err := handler.service.History(ctx.Request.Context(), userID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	response := make([]historyResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, historyResponse{
			ID:         entry.EntryID.Int64(),
			UserID:     entry.UserID.Int64(),
			Amount:     entry.Amount.Int64(),
			Type:       entry.Kind.String(),
			TimeMillis: entry.CreatedUnixMilli,
		})
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleCharge(ctx *gin.Context) {
	handler.handleMutation(ctx, handler.service.Charge)
}

func (handler *httpHandler) handleUse(ctx *gin.Context) {
	handler.handleMutation(ctx, handler.service.Use)
}

func (handler *httpHandler) handleMutation(ctx *gin.Context, mutate func(context.Context, ledger.UserID, ledger.PositiveAmount) (ledger.Balance, error)) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	var payload amountRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil || payload.Amount == nil {
		writeErrorResponse(ctx, http.StatusBadRequest, errorCodeInvalidPayload, messageInvalidPayload)
		return
	}
	amount, err := ledger.NewPositiveAmount(*payload.Amount)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	balance, err := mutate(ctx.Request.Context(), userID, amount)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toBalanceResponse(balance))
}

func (handler *httpHandler) userID(ctx *gin.Context) (ledger.UserID, bool) {
	userID, err := ledger.ParseUserID(ctx.Param(paramUserID))
	if err != nil {
		handler.writeError(ctx, err)
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	status, code, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("point request failed",
			zap.String("code", code),
			zap.String("request_id", ctx.GetString(headerRequestID)),
			zap.Error(err),
		)
	}
	writeErrorResponse(ctx, status, code, message)
}

func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidUserID):
		return http.StatusBadRequest, errorCodeInvalidUserID, messageInvalidUserID
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, errorCodeInvalidAmount, messageInvalidAmount
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict, errorCodeInsufficientBalance, messageInsufficientBalance
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorCodeRequestCanceled, messageRequestCanceled
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorCodeStoreUnavailable, messageStoreUnavailable
	default:
		return http.StatusInternalServerError, errorCodeInternal, messageInternal
	}
}

func writeErrorResponse(ctx *gin.Context, status int, code string, message string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func toBalanceResponse(balance ledger.Balance) balanceResponse {
	return balanceResponse{
		ID:           balance.UserID.Int64(),
		Point:        balance.Point.Int64(),
		UpdateMillis: balance.UpdatedUnixMilli,
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Set(headerRequestID, requestID)
		ctx.Header(headerRequestID, requestID)
		ctx.Request = ctx.Request.WithContext(oplog.WithRequestID(ctx.Request.Context(), requestID))
		ctx.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if timeout <= 0 {
			ctx.Next()
			return
		}
		requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), timeout)
		defer cancel()
		ctx.Request = ctx.Request.WithContext(requestCtx)
		ctx.Next()
	}
}

func accessLogMiddleware(logger *zap.Logger, registry *metrics.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		elapsed := time.Since(start)
		route := ctx.FullPath()
		if route == "" {
			route = routeUnmatched
		}
		status := ctx.Writer.Status()
		registry.ObserveRequest(route, ctx.Request.Method, status, elapsed)
		logger.Info("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", ctx.GetString(headerRequestID)),
		)
	}
}
