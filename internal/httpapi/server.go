// Package httpapi exposes the rewards engine over an authenticated JSON API.
// Sessions are tauth-issued JWT cookies; all domain mutations go through the
// engine dispatcher.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/rewards/pkg/coupon"
	"github.com/MarkoPoloResearchLab/rewards/pkg/engine"
	"github.com/MarkoPoloResearchLab/rewards/pkg/pet"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

// Catalog covers the read and admin operations that fall outside the
// dispatcher's event flows.
type Catalog interface {
	CreatePet(ctx context.Context, owned pet.Pet) (pet.Pet, error)
	ListCatalogTypes(ctx context.Context, atUnixUTC int64) ([]coupon.CatalogType, error)
	ListInstancesByOwner(ctx context.Context, ownerUserID string, limit int) ([]coupon.Instance, error)
}

// Server serves the rewards HTTP API.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	dispatcher *engine.Dispatcher
	catalog    Catalog
}

// New wires a Server.
func New(cfg Config, dispatcher *engine.Dispatcher, catalog Catalog, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher dependency is nil")
	}
	if catalog == nil {
		return nil, errors.New("catalog dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, logger: logger, dispatcher: dispatcher, catalog: catalog}, nil
}

// Run serves until ctx is canceled.
func (server *Server) Run(ctx context.Context) error {
	router, err := server.Router()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("rewards api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the gin engine with session validation and CORS applied.
func (server *Server) Router() (*gin.Engine, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(server.cfg.SessionSigningKey),
		Issuer:     server.cfg.SessionIssuer,
		CookieName: server.cfg.SessionCookieName,
	})
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware("auth_claims"))

	api.GET("/session", server.handleSession)
	api.POST("/signin", server.handleSignIn)
	api.GET("/wallet", server.handleWallet)
	api.POST("/pets", server.handleAdoptPet)
	api.GET("/pets/:pet_id", server.handlePetStatus)
	api.POST("/pets/:pet_id/feed", server.careHandler(server.dispatcher.FeedPet))
	api.POST("/pets/:pet_id/play", server.careHandler(server.dispatcher.PlayWithPet))
	api.POST("/pets/:pet_id/clean", server.careHandler(server.dispatcher.CleanPet))
	api.POST("/games/results", server.handleGameResult)
	api.GET("/catalog", server.handleCatalog)
	api.GET("/coupons", server.handleListInstances)
	api.POST("/coupons/exchange", server.exchangeHandler(server.dispatcher.ExchangeCoupon))
	api.POST("/vouchers/exchange", server.exchangeHandler(server.dispatcher.ExchangeVoucher))
	api.POST("/coupons/:instance_id/use", server.handleUse)
	api.POST("/vouchers/:instance_id/use", server.handleUse)
	api.POST("/vouchers/redeem", server.handleRedeemToken)

	return router, nil
}

func (server *Server) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

func (server *Server) handleSignIn(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	result, err := server.dispatcher.ProcessSignIn(requestCtx, claims.GetUserID())
	if err != nil {
		server.respondError(ctx, "sign-in failed", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (server *Server) handleWallet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	overview, err := server.dispatcher.WalletOverview(requestCtx, claims.GetUserID())
	if err != nil {
		server.respondError(ctx, "wallet fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": overview})
}

type adoptPetRequest struct {
	Name string `json:"name" binding:"required"`
}

func (server *Server) handleAdoptPet(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request adoptPetRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "pet name is required"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	adopted, err := server.catalog.CreatePet(requestCtx, pet.Pet{
		UserID: claims.GetUserID(),
		Name:   request.Name,
		Level:  1,
		Attributes: pet.Attributes{
			Hunger: 50, Mood: 50, Stamina: 50, Cleanliness: 50, Health: 50,
		},
	})
	if err != nil {
		server.respondError(ctx, "pet adoption failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"pet_id": adopted.PetID, "name": adopted.Name, "level": adopted.Level})
}

func (server *Server) handlePetStatus(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	status, err := server.dispatcher.PetStatus(requestCtx, ctx.Param("pet_id"))
	if err != nil {
		server.respondError(ctx, "pet status failed", err)
		return
	}
	if status.UserID != claims.GetUserID() {
		ctx.JSON(http.StatusForbidden, errorResponse("not_owned", "pet belongs to another user"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"pet": status})
}

type careRequest struct {
	EventID string `json:"event_id"`
}

func (server *Server) careHandler(care func(ctx context.Context, userID string, petID string, eventID string) (engine.CareOutcome, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		var request careRequest
		_ = ctx.ShouldBindJSON(&request)
		if request.EventID == "" {
			request.EventID = uuid.NewString()
		}
		requestCtx, cancel := server.requestContext(ctx)
		defer cancel()
		outcome, err := care(requestCtx, claims.GetUserID(), ctx.Param("pet_id"), request.EventID)
		if err != nil {
			server.respondError(ctx, "pet care failed", err)
			return
		}
		ctx.JSON(http.StatusOK, outcome)
	}
}

type gameResultRequest struct {
	EventID   string `json:"event_id"`
	PetID     string `json:"pet_id" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
	Score     int64  `json:"score"`
	Completed bool   `json:"completed"`
}

func (server *Server) handleGameResult(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request gameResultRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "pet_id and kind are required"))
		return
	}
	if request.EventID == "" {
		request.EventID = uuid.NewString()
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	outcome, err := server.dispatcher.SubmitGameResult(requestCtx, claims.GetUserID(), request.PetID, engine.GameResult{
		EventID:   request.EventID,
		Kind:      request.Kind,
		Score:     request.Score,
		Completed: request.Completed,
	})
	if err != nil {
		server.respondError(ctx, "game result failed", err)
		return
	}
	ctx.JSON(http.StatusOK, outcome)
}

func (server *Server) handleCatalog(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	types, err := server.catalog.ListCatalogTypes(requestCtx, time.Now().UTC().Unix())
	if err != nil {
		server.respondError(ctx, "catalog fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"types": types})
}

func (server *Server) handleListInstances(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	instances, err := server.catalog.ListInstancesByOwner(requestCtx, claims.GetUserID(), defaultInstanceListLimit)
	if err != nil {
		server.respondError(ctx, "instance list failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"instances": instances})
}

type exchangeRequest struct {
	TypeID  string `json:"type_id" binding:"required"`
	EventID string `json:"event_id"`
}

func (server *Server) exchangeHandler(exchange func(ctx context.Context, userID string, typeID string, eventID string) (engine.ExchangeOutcome, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		var request exchangeRequest
		if err := ctx.ShouldBindJSON(&request); err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "type_id is required"))
			return
		}
		if request.EventID == "" {
			request.EventID = uuid.NewString()
		}
		requestCtx, cancel := server.requestContext(ctx)
		defer cancel()
		outcome, err := exchange(requestCtx, claims.GetUserID(), request.TypeID, request.EventID)
		if err != nil {
			server.respondError(ctx, "exchange failed", err)
			return
		}
		ctx.JSON(http.StatusOK, outcome)
	}
}

func (server *Server) handleUse(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	outcome, err := server.dispatcher.UseCoupon(requestCtx, ctx.Param("instance_id"), claims.GetUserID())
	if err != nil {
		server.respondError(ctx, "use failed", err)
		return
	}
	ctx.JSON(http.StatusOK, outcome)
}

type redeemRequest struct {
	Token string `json:"token" binding:"required"`
}

func (server *Server) handleRedeemToken(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "token is required"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	redeemed, err := server.dispatcher.RedeemVoucherToken(requestCtx, request.Token)
	if err != nil {
		server.respondError(ctx, "redeem failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"instance_id": redeemed.InstanceID,
		"type_id":     redeemed.TypeID,
		"used":        redeemed.IsUsed,
	})
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
}

func (server *Server) respondError(ctx *gin.Context, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		server.logger.Error(message, zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds"
	case errors.Is(err, coupon.ErrAlreadyUsed):
		return http.StatusConflict, "already_used"
	case errors.Is(err, coupon.ErrCatalogTypeNotActive):
		return http.StatusConflict, "not_active"
	case errors.Is(err, coupon.ErrTokenExpired):
		return http.StatusGone, "token_expired"
	case errors.Is(err, pet.ErrNotOwned), errors.Is(err, coupon.ErrNotOwned):
		return http.StatusForbidden, "not_owned"
	case errors.Is(err, pet.ErrUnknownPet):
		return http.StatusNotFound, "unknown_pet"
	case errors.Is(err, coupon.ErrUnknownCatalogType):
		return http.StatusNotFound, "unknown_type"
	case errors.Is(err, coupon.ErrUnknownInstance):
		return http.StatusNotFound, "unknown_instance"
	case errors.Is(err, coupon.ErrUnknownToken):
		return http.StatusNotFound, "unknown_token"
	case errors.Is(err, engine.ErrMissingEventID),
		errors.Is(err, engine.ErrUnknownCareAction),
		errors.Is(err, wallet.ErrInvalidUserID),
		errors.Is(err, wallet.ErrInvalidEventID):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get("auth_claims")
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
