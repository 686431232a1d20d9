package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Envelope is the uniform wrapper around every backend JSON response.
type Envelope[T any] struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      T      `json:"data"`
	TraceID   string `json:"traceId"`
	Timestamp string `json:"timestamp"`
}

// rawEnvelope defers decoding of data until the envelope is known to be a
// success. Code is left untyped so a non-numeric code is never mistaken for
// an application failure.
type rawEnvelope struct {
	Code      any             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	TraceID   string          `json:"traceId"`
	Timestamp string          `json:"timestamp"`
}

// numericCode returns the code when it is a JSON number. The value is kept as
// decoded so a fractional code is never rounded to success.
func (e *rawEnvelope) numericCode() (float64, bool) {
	f, ok := e.Code.(float64)
	return f, ok
}

func isJSONContentType(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "application/json")
}

func statusOK(status int) bool {
	return status >= 200 && status <= 299
}

// readEnvelope reads the full body of resp and classifies it. It returns the
// parsed envelope on success, or an *Error.
func readEnvelope(resp *http.Response) (*rawEnvelope, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(resp.StatusCode, "reading response body", err)
	}

	ct := resp.Header.Get("Content-Type")
	if !isJSONContentType(ct) {
		return nil, transportError(resp.StatusCode, fmt.Sprintf("unexpected content-type: %s", ct), nil)
	}

	env := &rawEnvelope{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, env); err != nil {
			return nil, transportError(resp.StatusCode, "malformed JSON response", err)
		}
	}
	if env.TraceID == "" {
		env.TraceID = resp.Header.Get(TraceHeader)
	}

	code, hasCode := env.numericCode()
	if !statusOK(resp.StatusCode) || (hasCode && code != CodeSuccess) {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		apiErr := &Error{Kind: KindApplication, Status: resp.StatusCode, Message: msg, TraceID: env.TraceID}
		if hasCode {
			c := int(code)
			apiErr.Code = &c
		}
		return nil, apiErr
	}
	return env, nil
}

// decodeData unmarshals the envelope payload into out. A nil out discards it.
func (e *rawEnvelope) decodeData(status int, out any) error {
	if out == nil {
		return nil
	}
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return transportError(status, "decoding response data", err)
	}
	return nil
}
