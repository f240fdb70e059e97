package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"keap-export/config"
	"keap-export/models"
	"keap-export/services"
)

// GetRuns lists recent runs, newest first
func GetRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	tracker := services.NewRunTracker(nil, nil)
	runs, err := tracker.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns one run with its progress rows, source counts and
// aggregated request metrics
func GetRun(c *gin.Context) {
	publicID := c.Param("id")

	var run models.EtlRun
	if err := config.DB.Where("public_id = ?", publicID).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run"})
		return
	}

	var progress []models.SyncProgress
	if err := config.DB.Where("run_id = ?", run.ID).
		Order("created_at ASC, id ASC").
		Find(&progress).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch progress"})
		return
	}

	var sourceCounts []models.SourceCount
	if err := config.DB.Where("run_id = ?", run.ID).Find(&sourceCounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch source counts"})
		return
	}

	tracker := services.NewRunTracker(nil, nil)
	metrics, err := tracker.RunMetrics(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":           run,
		"progress":      progress,
		"source_counts": sourceCounts,
		"metrics":       metrics,
	})
}

// GetRunRequests pages through the raw request log of a run
func GetRunRequests(c *gin.Context) {
	publicID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var run models.EtlRun
	if err := config.DB.Where("public_id = ?", publicID).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch run"})
		return
	}

	query := config.DB.Where("run_id = ?", run.ID)
	if entity := c.Query("entity"); entity != "" {
		query = query.Where("entity = ?", entity)
	}

	var total int64
	if err := query.Model(&models.RequestLog{}).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count requests"})
		return
	}

	var requests []models.RequestLog
	if err := query.Order("id ASC").Limit(limit).Offset(offset).Find(&requests).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch requests"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetValidation re-runs the validation battery and returns the report
func GetValidation(c *gin.Context) {
	var runID uint64
	if publicID := c.Query("run_id"); publicID != "" {
		var run models.EtlRun
		if err := config.DB.Where("public_id = ?", publicID).First(&run).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		runID = run.ID
	}

	validator := services.NewValidationService(nil, nil)
	report, err := validator.ValidateRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Validation failed to execute"})
		return
	}

	c.JSON(http.StatusOK, report)
}
