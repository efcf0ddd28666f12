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
	"errors"

	"github.com/freightline/recon/internal/apierror"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError writes err with the status its code maps to. Details are only
// echoed when they are data, never a wrapped error.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("unhandled error")
		c.JSON(status, gin.H{"code": apierror.ErrInternalServer, "error": "internal server error"})
		return
	}
	body := gin.H{"code": apiErr.Code, "error": apiErr.Message}
	if _, isErr := apiErr.Details.(error); apiErr.Details != nil && !isErr {
		body["details"] = apiErr.Details
	}
	c.JSON(status, body)
}

func invalidInput(c *gin.Context, err error) {
	respondError(c, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil))
}
