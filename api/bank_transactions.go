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

// RecordBankTransaction ingests a normalized bank feed entry. A repeated
// transaction_ref on the same connection is rejected with 409.
func (a Api) RecordBankTransaction(c *gin.Context) {
	var req model2.RecordBankTransaction
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateRecordBankTransaction(); err != nil {
		invalidInput(c, err)
		return
	}
	txn, err := req.ToBankTransaction()
	if err != nil {
		invalidInput(c, err)
		return
	}

	resp, err := a.recon.RecordBankTransaction(c.Request.Context(), txn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetBankTransaction(c *gin.Context) {
	resp, err := a.recon.GetBankTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetCandidates lists ranked candidates without changing the transaction.
func (a Api) GetCandidates(c *gin.Context) {
	candidates, err := a.recon.FindCandidates(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": c.Param("id"), "candidates": candidates})
}

func (a Api) ResolveTransaction(c *gin.Context) {
	resp, err := a.recon.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// OverrideMatch records a manual decision. An empty item_ids list marks the
// transaction ignored.
func (a Api) OverrideMatch(c *gin.Context) {
	var req model2.OverrideMatch
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateOverrideMatch(); err != nil {
		invalidInput(c, err)
		return
	}

	resp, err := a.recon.Override(c.Request.Context(), c.Param("id"), req.ItemIDs, req.User, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetLedgerApplications(c *gin.Context) {
	apps, err := a.recon.LedgerApplications(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apps)
}

func (a Api) RecordAdjustment(c *gin.Context) {
	var req model2.RecordAdjustment
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateRecordAdjustment(); err != nil {
		invalidInput(c, err)
		return
	}

	resp, err := a.recon.RecordAdjustment(c.Request.Context(), req.ToAdjustmentRequest(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetAdjustments(c *gin.Context) {
	resp, err := a.recon.Adjustments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StartSweep queues a sweep of the connection's unmatched transactions. Without a
// queue the sweep runs inline and its result is returned.
func (a Api) StartSweep(c *gin.Context) {
	var req model2.StartSweep
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, err)
		return
	}
	if err := req.ValidateStartSweep(); err != nil {
		invalidInput(c, err)
		return
	}
	if _, err := a.recon.Datasource().GetBankConnection(c.Request.Context(), req.BankConnectionID); err != nil {
		respondError(c, err)
		return
	}

	if q := a.recon.Queue(); q != nil {
		if err := q.EnqueueSweep(c.Request.Context(), req.BankConnectionID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"bank_connection_id": req.BankConnectionID, "status": "queued"})
		return
	}

	result, err := a.recon.Sweep(c.Request.Context(), req.BankConnectionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
