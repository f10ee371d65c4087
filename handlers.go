package main

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/middlewares"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
	"bitbucket.org/mmdatafocus/storefront_backend/workflow"
)

func registerRoutes(r *gin.Engine, engine *workflow.Engine, jobs *models.JobStore, notifications *models.NotificationStore) {
	r.POST("/api/auth/token", loginHandler())

	r.POST("/api/order/finalize", finalizeOrderHandler(engine))
	r.GET("/api/jobs", listJobsHandler(jobs))
	r.GET("/api/jobs/:id", getJobHandler(jobs))
	r.POST("/api/jobs/batch", batchJobsHandler(jobs))
	r.GET("/api/notifications", listNotificationsHandler(notifications))
	r.POST("/api/notifications/:id/read", markNotificationReadHandler(notifications))
}

// currentUser returns the authenticated identity from either the opaque
// session token or a bearer JWT.
func currentUser(c *gin.Context) (string, bool) {
	if username, ok := utils.GetUsernameFromContext(c.Request.Context()); ok && username != "" {
		return username, true
	}
	if claim := middlewares.CtxValue(c.Request.Context()); claim != nil {
		return claim.Role, true
	}
	return "", false
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginHandler issues an API token for the single operator account configured
// via env. ADMIN_PASSWORD_HASH (bcrypt) wins over plain ADMIN_PASSWORD.
func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		adminUser := strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))
		if adminUser == "" {
			adminUser = "admin"
		}
		if req.Username != adminUser || !passwordMatches(req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		token, err := utils.JwtGenerate(1, "admin")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}
		// Register the token as an opaque session too, so clients may send it
		// in the `token` header instead of an Authorization bearer.
		_ = config.SetRedisValue("Token:"+token, req.Username, 24*time.Hour)

		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func passwordMatches(password string) bool {
	if hash := strings.TrimSpace(os.Getenv("ADMIN_PASSWORD_HASH")); hash != "" {
		return utils.ComparePassword(hash, password) == nil
	}
	plain := os.Getenv("ADMIN_PASSWORD")
	return plain != "" && password == plain
}

func finalizeOrderHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := currentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req workflow.FinalizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var vErrs validator.ValidationErrors
			if errors.As(err, &vErrs) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		report, err := engine.Finalize(c.Request.Context(), &req, userId)
		if err != nil {
			var vErr *workflow.ValidationError
			if errors.As(err, &vErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		switch {
		case report.TimedOut:
			c.JSON(http.StatusAccepted, report)
		case report.Success:
			c.JSON(http.StatusOK, report)
		default:
			c.JSON(http.StatusMultiStatus, report)
		}
	}
}

func getJobHandler(jobs *models.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job := jobs.Get(c.Param("id"))
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

type batchJobsRequest struct {
	Ids []string `json:"ids" binding:"required,min=1"`
}

func batchJobsHandler(jobs *models.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req batchJobsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids are required"})
			return
		}

		found := jobs.GetMany(req.Ids)
		out := make(map[string]any, len(found))
		for id, job := range found {
			if job == nil {
				out[id] = gin.H{"status": "not_found"}
				continue
			}
			out[id] = job
		}
		c.JSON(http.StatusOK, gin.H{"jobs": out})
	}
}

const jobListLimit = 20

func listJobsHandler(jobs *models.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, recent := jobs.List(jobListLimit)
		c.JSON(http.StatusOK, gin.H{
			"counts": counts,
			"jobs":   recent,
		})
	}
}

func listNotificationsHandler(notifications *models.NotificationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.Query("user_id")
		unreadOnly := strings.EqualFold(c.Query("unread"), "true")
		c.JSON(http.StatusOK, gin.H{
			"notifications": notifications.List(userId, unreadOnly),
		})
	}
}

func markNotificationReadHandler(notifications *models.NotificationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !notifications.MarkRead(c.Param("id")) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
