package events

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidPayload means the delivery lacks the audit-log envelope
var ErrInvalidPayload = errors.New("invalid event payload")

// Envelope is an audit-log entry as delivered by the webhook transport
type Envelope struct {
	ProtoPayload     *ProtoPayload `json:"protoPayload"`
	ReceiveTimestamp string        `json:"receiveTimestamp"`
}

// ProtoPayload carries the audited API call
type ProtoPayload struct {
	MethodName         string              `json:"methodName"`
	ResourceName       string              `json:"resourceName"`
	Response           json.RawMessage     `json:"response,omitempty"`
	AuthenticationInfo *AuthenticationInfo `json:"authenticationInfo,omitempty"`
}

// RevisionResponse is the subset of a create-revision response the
// classifier reads
type RevisionResponse struct {
	Name     string     `json:"name"`
	Revision FlexString `json:"revision"`
}

// RevisionResponse decodes the response of a create-revision call. Other
// methods carry unrelated response shapes, so it is decoded on demand.
func (p *ProtoPayload) RevisionResponse() (*RevisionResponse, error) {
	if len(p.Response) == 0 || string(p.Response) == "null" {
		return nil, errors.New("response is missing")
	}
	var r RevisionResponse
	if err := json.Unmarshal(p.Response, &r); err != nil {
		return nil, fmt.Errorf("unreadable response: %v", err)
	}
	return &r, nil
}

// AuthenticationInfo identifies the caller of the audited API
type AuthenticationInfo struct {
	PrincipalEmail string `json:"principalEmail"`
}

// FlexString accepts either a JSON string or a JSON number
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Actor returns the principal email or "unknown"
func (e *Envelope) Actor() string {
	if e.ProtoPayload == nil || e.ProtoPayload.AuthenticationInfo == nil || e.ProtoPayload.AuthenticationInfo.PrincipalEmail == "" {
		return "unknown"
	}
	return e.ProtoPayload.AuthenticationInfo.PrincipalEmail
}

// pushEnvelope is the Pub/Sub push wrapper around an audit-log entry
type pushEnvelope struct {
	Message *struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeEnvelope parses a delivery body. Bodies wrapped in a Pub/Sub push
// envelope are unwrapped first. A body that is not a JSON object, or that
// has no protoPayload, fails with ErrInvalidPayload.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var push pushEnvelope
	if err := json.Unmarshal(body, &push); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if push.Message != nil && push.Message.Data != "" {
		data, err := base64.StdEncoding.DecodeString(push.Message.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: push message data: %v", ErrInvalidPayload, err)
		}
		body = data
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.ProtoPayload == nil {
		return nil, fmt.Errorf("%w: missing protoPayload", ErrInvalidPayload)
	}
	return &env, nil
}
