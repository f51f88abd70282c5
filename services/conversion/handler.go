package conversion

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"convtrack/pkg/config"
	"convtrack/pkg/errutil"
	"convtrack/services/registry"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const schedulerTokenHeader = "X-Scheduler-Token"

type Handler struct {
	processor *Processor
	sweeper   *Sweeper
	store     Store
	audit     *Audit
	resolver  *registry.Resolver

	schedulerToken string
}

type HandlerParams struct {
	fx.In
	Processor *Processor
	Sweeper   *Sweeper
	Store     Store
	Audit     *Audit
	Resolver  *registry.Resolver
	Config    *config.Config
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		processor:      p.Processor,
		sweeper:        p.Sweeper,
		store:          p.Store,
		audit:          p.Audit,
		resolver:       p.Resolver,
		schedulerToken: p.Config.Sweep.SchedulerToken,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/conversion", h.HandleConversion)
	r.POST("/internal/sweep", h.HandleSweep)

	admin := r.Group("/admin")
	admin.POST("/flush", h.HandleFlushAll)
	admin.POST("/flush/:vertical_id", h.HandleFlushVertical)
	admin.POST("/cache/clear", h.HandleClearCache)
	admin.POST("/cache/clear/:vertical_id", h.HandleClearScope)
	admin.GET("/stats", h.HandleStats)
	admin.GET("/logs", h.HandleLogs)
}

// HandleConversion always answers HTTP 200 with a single-character code so
// the upstream tracker never retries; the code alone carries the outcome.
func (h *Handler) HandleConversion(c *gin.Context) {
	key := c.Query("clickid")
	rawAmount := c.Query("sum")
	offerID := c.Query("offer_id")

	// The two request variants are resolved exactly once, here at the
	// boundary: a scoped event in offer/vertical modes, a legacy global
	// event otherwise. A mismatched shape is a plain rejection.
	var ev Event
	if h.resolver.Mode() == registry.ScopeGlobal {
		if offerID != "" {
			c.String(http.StatusOK, CodeRejected)
			return
		}
		ev = GlobalEvent{AttributionKey: key, RawAmount: rawAmount}
	} else {
		if offerID == "" {
			c.String(http.StatusOK, CodeRejected)
			return
		}
		ev = ScopedEvent{AttributionKey: key, OfferID: offerID, RawAmount: rawAmount}
	}

	outcome, err := h.processor.Process(c.Request.Context(), ev)
	if err != nil {
		zap.L().Error("conversion processing failed", zap.Error(err))
		c.String(http.StatusOK, CodeInternalError)
		return
	}

	c.String(http.StatusOK, outcome.ResponseCode())
}

// HandleSweep is the scheduled flush entrypoint. Only the trusted scheduler
// may call it, authenticated by a shared secret header. An unconfigured
// secret disables the endpoint.
func (h *Handler) HandleSweep(c *gin.Context) {
	token := c.GetHeader(schedulerTokenHeader)
	if h.schedulerToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.schedulerToken)) != 1 {
		_ = c.Error(errutil.Unauthorized("invalid scheduler token", nil))
		return
	}

	summary, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		_ = c.Error(errutil.Internal("sweep failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"success_count": summary.SuccessCount,
		"total_scopes":  summary.Total,
		"results":       summary.Results,
		"timestamp":     summary.Timestamp,
	})
}

func (h *Handler) HandleFlushAll(c *gin.Context) {
	summary, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		_ = c.Error(errutil.Internal("flush failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"success_count":  summary.SuccessCount,
		"flushed_scopes": summary.Flushed,
		"total_scopes":   summary.Total,
		"results":        summary.Results,
		"timestamp":      summary.Timestamp,
	})
}

func (h *Handler) HandleFlushVertical(c *gin.Context) {
	verticalID := c.Param("vertical_id")

	vertical, err := h.resolver.Vertical(c.Request.Context(), verticalID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load vertical", err))
		return
	}
	if vertical == nil {
		_ = c.Error(errutil.NotFound("vertical not found", nil))
		return
	}

	result, err := h.sweeper.FlushVertical(c.Request.Context(), vertical)
	if err != nil {
		_ = c.Error(errutil.Internal("flush failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"vertical":  vertical.Name,
		"result":    result,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) HandleClearCache(c *gin.Context) {
	cleared, err := h.store.ClearAll(c.Request.Context())
	if err != nil {
		_ = c.Error(errutil.Internal("cache clear failed", err))
		return
	}

	h.audit.Decision(c.Request.Context(), DecisionLog{
		Action:  "manual_cache_clear",
		Message: "Admin cleared all cached conversions: " + strconv.FormatInt(cleared, 10) + " rows removed",
	})

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"cleared_rows": cleared,
	})
}

func (h *Handler) HandleClearScope(c *gin.Context) {
	verticalID := c.Param("vertical_id")

	vertical, err := h.resolver.Vertical(c.Request.Context(), verticalID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to load vertical", err))
		return
	}
	if vertical == nil {
		_ = c.Error(errutil.NotFound("vertical not found", nil))
		return
	}

	members, err := h.resolver.VerticalMembers(c.Request.Context(), vertical.ID)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to list vertical offers", err))
		return
	}

	cleared, err := h.store.ClearScope(c.Request.Context(), members)
	if err != nil {
		_ = c.Error(errutil.Internal("cache clear failed", err))
		return
	}

	h.audit.Decision(c.Request.Context(), DecisionLog{
		Action:  "manual_cache_clear",
		Message: "Admin cleared cached conversions for vertical " + vertical.Name + ": " + strconv.FormatInt(cleared, 10) + " rows removed",
	})

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"vertical":     vertical.Name,
		"cleared_rows": cleared,
	})
}

func (h *Handler) HandleStats(c *gin.Context) {
	ctx := c.Request.Context()

	cache, err := h.store.Stats(ctx)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to read cache stats", err))
		return
	}

	ledger, err := h.audit.LedgerStats(ctx)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to read ledger stats", err))
		return
	}

	topScopes, err := h.store.TopScopes(ctx, 20)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to read top scopes", err))
		return
	}

	recent, err := h.audit.RecentAttempts(ctx, 10)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to read recent postbacks", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"cache":            cache,
		"ledger":           ledger,
		"top_scopes":       topScopes,
		"recent_postbacks": recent,
	})
}

func (h *Handler) HandleLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.audit.RecentDecisions(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(errutil.Internal("failed to read decision logs", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(logs),
		"logs":    logs,
	})
}
