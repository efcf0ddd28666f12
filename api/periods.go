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

	model2 "github.com/freightline/recon/api/model"
	"github.com/gin-gonic/gin"
)

func (a Api) OpenPeriod(c *gin.Context) {
	var req model2.OpenPeriod
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateOpenPeriod(); err != nil {
		invalidInput(c, err)
		return
	}

	resp, err := a.recon.OpenPeriod(c.Request.Context(), req.ToOpenPeriodRequest())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetPeriod(c *gin.Context) {
	resp, err := a.recon.GetPeriod(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecomputePeriod refreshes a period's figures. With ?async=true it is queued instead.
func (a Api) RecomputePeriod(c *gin.Context) {
	id := c.Param("id")
	if q := a.recon.Queue(); q != nil && c.Query("async") == "true" {
		if err := q.EnqueueRecompute(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"period_id": id, "status": "queued"})
		return
	}

	resp, err := a.recon.RecomputePeriod(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) CompletePeriod(c *gin.Context) {
	var req model2.CompletePeriod
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateCompletePeriod(); err != nil {
		invalidInput(c, err)
		return
	}

	resp, err := a.recon.CompletePeriod(c.Request.Context(), c.Param("id"), req.User, req.OverrideReason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) ApprovePeriod(c *gin.Context) {
	var req model2.ApprovePeriod
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateApprovePeriod(); err != nil {
		invalidInput(c, err)
		return
	}

	resp, err := a.recon.ApprovePeriod(c.Request.Context(), c.Param("id"), req.User)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPeriodAudit(c *gin.Context) {
	resp, err := a.recon.PeriodAudit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
