package maxdata

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// TokenSource resolves the per-tenant bearer token table before a
// direct catalog call.
type TokenSource interface {
	TokenMap(ctx context.Context) (map[int]string, error)
}

// ProductImageHandler serves a product's image straight from the
// catalog. The tenant token is resolved server-side, so the dashboard
// never holds an ERP credential of its own.
func ProductImageHandler(client *Client, tokens TokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		empId, err := strconv.Atoi(c.Param("empId"))
		if err != nil || empId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
			return
		}
		productId, err := strconv.Atoi(c.Param("productId"))
		if err != nil || productId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}

		table, err := tokens.TokenMap(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		client.SetAuthTokens(table)

		data, contentType, err := client.GetProductImage(c.Request.Context(), empId, productId)
		if err != nil {
			var authErr *AuthenticationError
			var timeoutErr *TimeoutError
			var remoteErr *RemoteError
			switch {
			case errors.As(err, &authErr):
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			case errors.As(err, &timeoutErr):
				c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
			case errors.As(err, &remoteErr):
				c.JSON(remoteErr.StatusCode, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			}
			return
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(http.StatusOK, contentType, data)
	}
}
