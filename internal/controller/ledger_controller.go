package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"artifact-ingest/internal/model"
	"artifact-ingest/internal/service"
)

type LedgerController struct {
	ledgerQueryService service.LedgerQueryService
}

func NewLedgerController(ledgerQueryService service.LedgerQueryService) *LedgerController {
	return &LedgerController{
		ledgerQueryService: ledgerQueryService,
	}
}

func RegisterLedgerRoutes(router *gin.Engine, controller *LedgerController) {
	router.GET("/health", controller.Health)
	v1 := router.Group("/api/v1/ledgers")
	{
		v1.GET("/:kind", controller.GetRows)
		v1.GET("/:kind/summary", controller.GetSummary)
	}
}

func (c *LedgerController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, model.NewResponse("ok", nil))
}

// GetRows returns every ledger row for the kind in the path.
func (c *LedgerController) GetRows(ctx *gin.Context) {
	kind := ctx.Param("kind")
	result, err := c.ledgerQueryService.Rows(ctx.Request.Context(), kind)
	if err != nil {
		c.fail(ctx, kind, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetSummary returns host count, line totals and the overall success rate.
func (c *LedgerController) GetSummary(ctx *gin.Context) {
	kind := ctx.Param("kind")
	result, err := c.ledgerQueryService.Summary(ctx.Request.Context(), kind)
	if err != nil {
		c.fail(ctx, kind, err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

func (c *LedgerController) fail(ctx *gin.Context, kind string, err error) {
	if errors.Is(err, service.ErrUnknownKind) {
		ctx.JSON(http.StatusNotFound, model.NewResponse("Unknown artifact kind: "+kind, nil))
		return
	}
	log.Error().Err(err).Str("kind", kind).Msg("Error reading ledger")
	ctx.JSON(http.StatusInternalServerError, model.NewResponse("Failed to read ledger", nil))
}
