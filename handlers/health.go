package handlers

import (
	"github.com/AbdelrhmanX7/memorly-server/utils"

	"github.com/gin-gonic/gin"
)

func HealthCheck(c *gin.Context) {
	utils.Success(c, gin.H{
		"status":  "ok",
		"service": "memorly",
	})
}
