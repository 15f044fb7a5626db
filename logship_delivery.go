//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package logship

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/valyala/fastjson"
)

const (
	// DefaultRequestTimeout bounds a single delivery request.
	DefaultRequestTimeout = 10 * time.Second

	// apiKeyHeader is the request header carrying the access key.
	apiKeyHeader = "API-Key"

	// maxResponseSize is the max number of response bytes read to classify
	// the outcome.
	maxResponseSize = 1 << 20

	// msgNoConnection describes an empty response body.
	msgNoConnection = "No connection"

	// msgInvalidResponse describes a non empty response that isn't a JSON
	// object.
	msgInvalidResponse = "Invalid server response"
)

// OutcomeKind classifies the result of one delivery attempt.
type OutcomeKind int

const (
	// Delivered means the endpoint acknowledged the record.
	Delivered OutcomeKind = iota
	// Rejected means a response was received but it's malformed, or the
	// record couldn't be serialized.
	Rejected
	// Unreachable means the endpoint couldn't be reached or sent nothing back.
	Unreachable
)

// String returns the lowercase name of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of a Sender's Send.
type Outcome struct {
	// Kind is the outcome classification.
	Kind OutcomeKind
	// Err details a Rejected or Unreachable outcome, nil when Delivered.
	Err error
}

// DeliveryError describes a failed delivery.
type DeliveryError struct {
	// URI is the endpoint the request was sent to.
	URI string
	// StatusCode is the HTTP status code, 0 if no response was received.
	StatusCode int
	// Status is the HTTP status text.
	Status string
	// Message is a short description of the failure.
	Message string
	// Err is the underlying error, if any.
	Err error
}

// Error returns the string representation of the delivery error.
func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery to %s failed: %s", e.URI, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Sender performs one delivery attempt of one record. Retries are never done
// by the Sender, they belong to the Drainer.
type Sender interface {
	Send(ctx context.Context, record LogRecord) Outcome
}

// HTTPSender is a Sender posting JSON records to an HTTP endpoint.
type HTTPSender struct {
	uri    string
	apiKey string
	client *http.Client
}

// NewHTTPSender returns a Sender posting to uri with apiKey as the identity
// header. A nil client uses a pooled client with timeout as request timeout,
// timeout <= 0 means DefaultRequestTimeout.
func NewHTTPSender(uri, apiKey string, client *http.Client, timeout time.Duration) *HTTPSender {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		client.Timeout = timeout
	}

	return &HTTPSender{
		uri:    uri,
		apiKey: apiKey,
		client: client,
	}
}

// Send posts record and classifies the response.
func (hs *HTTPSender) Send(ctx context.Context, record LogRecord) Outcome {
	payload, err := json.Marshal(record)
	if err != nil {
		return Outcome{Kind: Rejected, Err: &DeliveryError{
			URI:     hs.uri,
			Message: "failed to serialize record",
			Err:     fmt.Errorf("%w: %v", ErrUnserializable, err),
		}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hs.uri, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Kind: Rejected, Err: &DeliveryError{
			URI:     hs.uri,
			Message: "failed to create request",
			Err:     err,
		}}
	}
	req.Header.Set(apiKeyHeader, hs.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := hs.client.Do(req)
	if err != nil {
		return Outcome{Kind: Unreachable, Err: &DeliveryError{
			URI:     hs.uri,
			Message: msgNoConnection,
			Err:     err,
		}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Outcome{Kind: Unreachable, Err: &DeliveryError{
			URI:        hs.uri,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    "failed to read response",
			Err:        err,
		}}
	}

	return classifyResponse(hs.uri, resp, body)
}

// classifyResponse maps a received response to an outcome. An empty body is
// a connectivity failure, a JSON object is an acknowledgment, anything else
// is a malformed response.
func classifyResponse(uri string, resp *http.Response, body []byte) Outcome {
	if len(bytes.TrimSpace(body)) == 0 {
		return Outcome{Kind: Unreachable, Err: &DeliveryError{
			URI:        uri,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    msgNoConnection,
		}}
	}

	value, err := fastjson.ParseBytes(body)
	if err == nil && value.Type() == fastjson.TypeObject {
		return Outcome{Kind: Delivered}
	}
	if err == nil {
		err = errors.New("response body is not a JSON object")
	}

	return Outcome{Kind: Rejected, Err: &DeliveryError{
		URI:        uri,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    msgInvalidResponse,
		Err:        err,
	}}
}
