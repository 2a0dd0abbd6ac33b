package server

import (
	"net/http"
	"strconv"
	"time"

	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	"github.com/gin-gonic/gin"
)

type sendNotificationRequest struct {
	Title       string   `json:"title" binding:"required"`
	Body        string   `json:"body"`
	Category    string   `json:"category"`
	TargetMode  string   `json:"target_mode" binding:"required"`
	Role        string   `json:"role"`
	ResidentIDs []string `json:"resident_ids"`
	ScheduledAt string   `json:"scheduled_at"`
}

func (s *Server) HandleSendNotification(c *gin.Context) {
	var req sendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	input := notificationdomain.SendInput{
		Title:      req.Title,
		Body:       req.Body,
		Category:   notificationdomain.Category(req.Category),
		TargetMode: notificationdomain.TargetMode(req.TargetMode),
		Role:       req.Role,
		CreatedBy:  "api",
	}
	for _, raw := range req.ResidentIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			AbortWithError(c, newValidationError("resident_ids", "invalid_resident_id", "invalid value"))
			return
		}
		input.ResidentIDs = append(input.ResidentIDs, id)
	}
	if req.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			AbortWithError(c, newValidationError("scheduled_at", "invalid_scheduled_at", "expected RFC3339"))
			return
		}
		input.ScheduledAt = &at
	}

	notification, err := s.notificationSvc.Send(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"id":          notification.ID.String(),
		"title":       notification.Title,
		"category":    string(notification.Category),
		"target_mode": string(notification.TargetMode),
	}
	if notification.SentAt != nil {
		resp["sent_at"] = notification.SentAt.UTC().Format(time.RFC3339)
	}
	if notification.ScheduledAt != nil {
		resp["scheduled_at"] = notification.ScheduledAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusCreated, resp)
}
