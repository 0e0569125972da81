package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"raffleScope/internal/model"
)

// RaffleReader is the read side of the projection store.
type RaffleReader interface {
	GetRaffle(ctx context.Context, raffleID string) (model.Raffle, bool, error)
	ListRaffles(ctx context.Context, f model.RaffleFilter) ([]model.Raffle, int, error)
	ListParticipants(ctx context.Context, raffleID string, limit, offset int) ([]model.Participant, int, error)
}

type RaffleHandler struct {
	Store RaffleReader
}

func (h *RaffleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/raffles")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/participants", h.participants)
}

func (h *RaffleHandler) list(c *gin.Context) {
	statuses, ok := parseStatuses(c.Query("status"))
	if !ok {
		Error(c, http.StatusBadRequest, "invalid status", nil)
		return
	}
	page, limit, offset := pageParams(c)

	items, total, err := h.Store.ListRaffles(c.Request.Context(), model.RaffleFilter{
		Statuses: statuses,
		Creator:  strings.TrimSpace(c.Query("creator")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(page, limit, total))
}

func (h *RaffleHandler) get(c *gin.Context) {
	raffle, found, err := h.Store.GetRaffle(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if !found {
		Error(c, http.StatusNotFound, "raffle not found", nil)
		return
	}
	Ok(c, raffle, nil)
}

func (h *RaffleHandler) participants(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, found, err := h.Store.GetRaffle(ctx, id); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	} else if !found {
		Error(c, http.StatusNotFound, "raffle not found", nil)
		return
	}

	page, limit, offset := pageParams(c)
	items, total, err := h.Store.ListParticipants(ctx, id, limit, offset)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(page, limit, total))
}

func parseStatuses(raw string) ([]model.RaffleStatus, bool) {
	var out []model.RaffleStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch st := model.RaffleStatus(part); st {
		case model.StatusActive, model.StatusCompleted, model.StatusCancelled:
			out = append(out, st)
		default:
			return nil, false
		}
	}
	return out, true
}
