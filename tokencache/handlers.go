package tokencache

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TokensHandler lists the cached tenant tokens with their decoded
// status. Raw token values are not echoed back.
func TokensHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokens, err := s.GetTokens(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		statuses := make([]TokenStatus, 0, len(tokens))
		for _, t := range tokens {
			statuses = append(statuses, DecodeToken(t.Token))
		}
		c.JSON(http.StatusOK, gin.H{"tokens": statuses})
	}
}

func TokenStatusHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := s.GetTokenStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"stats":  stats,
			"status": s.GetSyncStatus(c.Request.Context()),
		})
	}
}

func ForceSyncHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.ForceSync(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "token sync completed"})
	}
}
