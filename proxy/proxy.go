// Package proxy forwards dashboard requests to the Max Data ERP API so
// browser clients never talk to the remote host directly.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultUpstreamTimeout = 30 * time.Second

type Forwarder struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

func NewForwarder(logger *logrus.Logger) *Forwarder {
	baseURL := os.Getenv("MAX_DATA_BASE_URL")
	if baseURL == "" {
		baseURL = "https://rds.skytins.com.br:13345/v2"
	}
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultUpstreamTimeout},
		logger:  logger,
	}
}

// Handler relays the request to the upstream API, preserving method,
// query string, body and the Authorization header. Timeouts map to 408
// so the dashboard can distinguish a slow ERP from a broken one.
func (f *Forwarder) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		upstream := f.baseURL + c.Param("path")
		if raw := c.Request.URL.RawQuery; raw != "" {
			upstream += "?" + raw
		}

		var body io.Reader
		if c.Request.Body != nil && c.Request.Method != http.MethodGet {
			data, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
				return
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstream, body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if auth := c.GetHeader("Authorization"); auth != "" {
			req.Header.Set("Authorization", auth)
		}
		if ct := c.GetHeader("Content-Type"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}

		resp, err := f.http.Do(req)
		if err != nil {
			status := http.StatusBadGateway
			if isTimeout(err) {
				status = http.StatusRequestTimeout
			}
			f.logger.WithFields(logrus.Fields{
				"module": "proxy",
				"path":   c.Param("path"),
			}).WithError(err).Warn("upstream request failed")
			c.JSON(status, gin.H{"error": "upstream request failed"})
			return
		}
		defer resp.Body.Close()

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		if c.Query("thumb") == "1" && strings.HasPrefix(contentType, "image/") {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to read upstream response"})
				return
			}
			thumb, err := makeThumbnail(data)
			if err != nil {
				// Fall back to the original bytes when decoding fails.
				c.Data(resp.StatusCode, contentType, data)
				return
			}
			c.Data(resp.StatusCode, "image/jpeg", thumb)
			return
		}

		c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, nil)
	}
}

func makeThumbnail(originalData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(originalData))
	if err != nil {
		return nil, err
	}

	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var thumbnailBuffer bytes.Buffer
	if err := imaging.Encode(&thumbnailBuffer, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}

	return thumbnailBuffer.Bytes(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
