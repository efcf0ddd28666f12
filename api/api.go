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

package api

import (
	"net/http"

	"github.com/freightline/recon"
	"github.com/freightline/recon/api/middleware"
	"github.com/freightline/recon/config"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	recon  *recon.Recon
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/bank-transactions", a.RecordBankTransaction)
	router.GET("/bank-transactions/:id", a.GetBankTransaction)
	router.GET("/bank-transactions/:id/candidates", a.GetCandidates)
	router.POST("/bank-transactions/:id/resolve", a.ResolveTransaction)
	router.POST("/bank-transactions/:id/override", a.OverrideMatch)
	router.GET("/bank-transactions/:id/ledger-applications", a.GetLedgerApplications)
	router.POST("/bank-transactions/:id/adjustments", a.RecordAdjustment)
	router.GET("/bank-transactions/:id/adjustments", a.GetAdjustments)

	router.POST("/sweeps", a.StartSweep)

	router.POST("/reconciliation-periods", a.OpenPeriod)
	router.GET("/reconciliation-periods/:id", a.GetPeriod)
	router.POST("/reconciliation-periods/:id/recompute", a.RecomputePeriod)
	router.POST("/reconciliation-periods/:id/complete", a.CompletePeriod)
	router.POST("/reconciliation-periods/:id/approve", a.ApprovePeriod)
	router.GET("/reconciliation-periods/:id/audit", a.GetPeriodAudit)
	return a.router
}

func NewAPI(r *recon.Recon) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.Default()
	router.Use(otelgin.Middleware(conf.ProjectName))
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware(conf))
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{recon: r, router: router}
}
