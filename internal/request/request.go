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

package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 1 << 20

// Response is the status and raw body of a completed call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Is2xx reports whether the call succeeded.
func (r *Response) Is2xx() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ToJsonReq converts a Go object to a JSON-encoded HTTP request payload.
//
// Parameters:
// - payload interface{}: The data structure to be serialized into JSON.
//
// Returns:
// - *bytes.Buffer: The JSON-encoded payload wrapped in a bytes buffer.
// - error: An error if the JSON marshalling process fails.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// PostJSON sends payload as a JSON POST to url with the given headers.
// Any status code is returned as a Response; only transport failures are errors.
//
// Parameters:
// - ctx context.Context: Bounds the whole call.
// - client *http.Client: The client to send with; its timeout applies.
// - url string: The target URL.
// - headers map[string]string: Extra headers such as Idempotency-Key.
// - payload interface{}: The body, marshalled to JSON.
//
// Returns:
// - *Response: The status code and body.
// - error: An error with a stack if the request could not be built or sent.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (*Response, error) {
	body, err := ToJsonReq(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// Decode unmarshals a JSON response body into out. An empty body is not an error.
func (r *Response) Decode(out interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}
