package availability

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/availability"
	"github.com/jwalitptl/clinic-api/pkg/httputil"
)

type Handler struct {
	service *availability.Service
	auth    *middleware.AuthMiddleware
}

func NewHandler(service *availability.Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	slots := r.Group("/availability")
	{
		slots.POST("", h.auth.RequireRole(model.RoleAdmin), h.CreateSlot)
		slots.GET("/doctor/:doctorId", h.GetAvailableSlots)
		slots.GET("/doctor/:doctorId/all", h.auth.RequireRole(model.RoleAdmin), h.ListDoctorSlots)
	}
}

func (h *Handler) CreateSlot(c *gin.Context) {
	identity, ok := handler.Identity(c)
	if !ok {
		return
	}

	var req model.CreateAvailabilityRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	slot, err := h.service.CreateSlot(c.Request.Context(), identity, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, slot)
}

func (h *Handler) GetAvailableSlots(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok {
		return
	}

	var query model.AvailableSlotsQuery
	if !handler.BindQuery(c, &query) {
		return
	}

	slots, err := h.service.GetAvailableSlots(c.Request.Context(), doctorID, query.Date)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, slots)
}

func (h *Handler) ListDoctorSlots(c *gin.Context) {
	doctorID, ok := handler.ParamUUID(c, "doctorId")
	if !ok {
		return
	}

	var query model.AvailableSlotsQuery
	if !handler.BindQuery(c, &query) {
		return
	}

	slots, err := h.service.ListDoctorSlots(c.Request.Context(), doctorID, query.Date)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, slots)
}
