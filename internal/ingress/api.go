package ingress

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/giquina/majordomo"
)

// apiStatus reports the assistant's operational state: the owner's pending
// action, if any, plus active task count.
func (s *Server) apiStatus(c *gin.Context) {
	ctx := c.Request.Context()

	owner, err := s.memory.GetConfig(ctx, "owner_user_id")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := gin.H{"status": "ok"}
	if owner != "" {
		if pending, found, err := s.actions.Pending(ctx, owner); err == nil && found {
			out["pending_action"] = gin.H{
				"id":      pending.ID,
				"kind":    pending.Kind,
				"summary": pending.Summary,
			}
		}
		if tasks, err := s.memory.ListTasks(ctx, owner, majordomo.TaskActive); err == nil {
			out["active_tasks"] = len(tasks)
		}
	}
	c.JSON(http.StatusOK, out)
}

// apiTasks lists the owner's active tasks.
func (s *Server) apiTasks(c *gin.Context) {
	ctx := c.Request.Context()

	owner, err := s.memory.GetConfig(ctx, "owner_user_id")
	if err != nil || owner == "" {
		c.JSON(http.StatusOK, gin.H{"tasks": []majordomo.Task{}})
		return
	}

	tasks, err := s.memory.ListTasks(ctx, owner, majordomo.TaskActive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []majordomo.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// raiseAlertRequest is the POST /api/alert payload. External systems
// (monitoring, CI) page the owner through the normal escalation ladder.
type raiseAlertRequest struct {
	Key   string `json:"key" binding:"required"`
	Level string `json:"level"`
	Body  string `json:"body" binding:"required"`
}

func (s *Server) apiRaiseAlert(c *gin.Context) {
	if s.escalator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alerting not configured"})
		return
	}

	var req raiseAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	level := req.Level
	switch level {
	case "":
		level = majordomo.AlertWarning
	case majordomo.AlertInfo, majordomo.AlertWarning, majordomo.AlertCritical:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown level " + req.Level})
		return
	}

	a, err := s.escalator.Raise(c.Request.Context(), req.Key, level, req.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": a.ID, "tier": a.Tier})
}
