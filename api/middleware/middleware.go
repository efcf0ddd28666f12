/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package middleware guards the reconciliation API. Both guards leave HealthPath
// open and reject with the same {"code", "error"} body the handlers use.
package middleware

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/freightline/recon/config"
	"github.com/freightline/recon/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// KeyHeader carries the shared secret presented by API callers.
const KeyHeader = "X-Recon-Key"

// HealthPath answers liveness checks.
const HealthPath = "/"

func abort(c *gin.Context, err apierror.APIError) {
	c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), gin.H{"code": err.Code, "error": err.Message})
}

// requestClass puts GET, HEAD and OPTIONS in the read class and every other method
// (ingest, resolve, override, sweeps, period transitions) in the write class.
func requestClass(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	default:
		return "write"
	}
}

// RateLimitMiddleware gives every client IP one token bucket per request class, so
// a dashboard polling candidates does not use up the allowance for resolving or
// overriding. It is a no-op unless both RPS and burst are configured.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	rl := conf.RateLimit
	if rl.RequestsPerSecond == nil || rl.Burst == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := *rl.RequestsPerSecond
	ttl := time.Hour
	if rl.CleanupIntervalSec != nil {
		ttl = time.Duration(*rl.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*rl.Burst)

	retryAfter := "1"
	if rps > 0 && rps < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / rps)))
	}

	return func(c *gin.Context) {
		if c.Request.URL.Path == HealthPath {
			c.Next()
			return
		}
		class := requestClass(c.Request.Method)
		if httpErr := tollbooth.LimitByKeys(lmt, []string{c.ClientIP(), class}); httpErr != nil {
			logrus.WithFields(logrus.Fields{
				"client_ip": c.ClientIP(),
				"class":     class,
				"path":      c.Request.URL.Path,
			}).Warn("request rate limited")
			c.Header("Retry-After", retryAfter)
			abort(c, apierror.NewAPIError(apierror.ErrRateLimited, "Too many requests, retry later", nil))
			return
		}
		c.Next()
	}
}

// SecretKeyAuthMiddleware admits requests whose KeyHeader matches the configured
// server secret. With no secret configured every request except the health check
// fails with INTERNAL_SERVER_ERROR.
func SecretKeyAuthMiddleware(conf *config.Configuration) gin.HandlerFunc {
	secret := conf.Server.SecretKey
	return func(c *gin.Context) {
		if c.Request.URL.Path == HealthPath {
			c.Next()
			return
		}
		if secret == "" {
			abort(c, apierror.NewAPIError(apierror.ErrInternalServer, "Secret key is not configured", nil))
			return
		}

		presented := c.GetHeader(KeyHeader)
		switch {
		case presented == "":
			unauthorized(c, "Missing "+KeyHeader+" header")
		case subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1:
			unauthorized(c, "Invalid secret key")
		default:
			c.Next()
		}
	}
}

func unauthorized(c *gin.Context, message string) {
	logrus.WithFields(logrus.Fields{
		"client_ip": c.ClientIP(),
		"path":      c.Request.URL.Path,
	}).Warn("rejected unauthenticated request")
	abort(c, apierror.NewAPIError(apierror.ErrUnauthorized, message, nil))
}
