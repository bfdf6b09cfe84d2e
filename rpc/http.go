package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// maxBodyBytes caps how much of a request or error body is read.
const maxBodyBytes = 64 * 1024

// errorBody is the JSON document returned for failed calls.
type errorBody struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// NewHTTPHandler serves svc as POST requests with a JSON Request body.
//
// Failures are answered with the category's HTTPStatus and an error body that
// names the category, so clients do not depend on the status mapping alone.
func NewHTTPHandler(svc Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeErrorBody(w, http.StatusMethodNotAllowed, Errorf(InvalidArgument, "method %s not allowed", r.Method))
			return
		}

		var req Request
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			WriteHTTPError(w, &Error{Category: InvalidArgument, Message: "malformed request body", Err: err})
			return
		}

		resp, err := svc.Process(r.Context(), &req)
		if err != nil {
			WriteHTTPError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// WriteHTTPError answers with err's category status and an error body that
// HTTPClient decodes back into the same category.
func WriteHTTPError(w http.ResponseWriter, err error) {
	writeErrorBody(w, CategoryOf(err).HTTPStatus(), err)
}

func writeErrorBody(w http.ResponseWriter, status int, err error) {
	body := errorBody{Category: CategoryOf(err), Message: err.Error()}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HTTPClient calls a remote Service over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the service rooted at baseURL, e.g.
// "http://localhost:8080". A nil client uses http.DefaultClient.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{baseURL: baseURL, client: client}
}

// Process issues one call. Failures are returned as *Error.
func (c *HTTPClient) Process(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, &Error{Category: InvalidArgument, Err: ErrNilRequest}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Category: InvalidArgument, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ProcessPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Category: InvalidArgument, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		// A dead context explains the failure better than the transport error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Category: CategoryOf(ctxErr), Message: "call aborted", Err: err}
		}
		return nil, &Error{Category: Unavailable, Message: "transport failure", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Category: CategoryOf(ctxErr), Message: "call aborted", Err: err}
		}
		return nil, &Error{Category: Unavailable, Message: "read response", Err: err}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeHTTPError(httpResp.StatusCode, body)
	}

	resp := new(Response)
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, &Error{Category: Internal, Message: "malformed response body", Err: err}
	}
	return resp, nil
}

func decodeHTTPError(statusCode int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Category != OK {
		return &Error{Category: eb.Category, Message: eb.Message}
	}
	return &Error{
		Category: CategoryFromHTTPStatus(statusCode),
		Message:  fmt.Sprintf("unexpected status %d", statusCode),
	}
}
