package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"

	"github.com/st3v3nmw/faultline/internal/cluster"
)

// Cluster is the application client used by workers and transitions.
type Cluster interface {
	// Read returns the value under key, and false when the key is unset.
	Read(ctx context.Context, node cluster.Node, key string) (int64, bool, error)
	Write(ctx context.Context, node cluster.Node, key string, value int64) error
	// CompareAndSwap returns ErrPrecondition when the current value is not old.
	CompareAndSwap(ctx context.Context, node cluster.Node, key string, old, new int64) error
	// ValidatorSetCAS sets pubKey's votes if the validator set is at version.
	ValidatorSetCAS(ctx context.Context, node cluster.Node, version int64, pubKey string, votes int64) error
}

var _ Cluster = (*HTTP)(nil)

// HTTP talks to each node's JSON API.
type HTTP struct {
	addrs  map[cluster.Node]string
	client *http.Client
}

// NewHTTP creates a client for nodes reachable at addrs ("host:port").
func NewHTTP(addrs map[cluster.Node]string, timeout time.Duration) *HTTP {
	return &HTTP{
		addrs:  addrs,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTP) Read(ctx context.Context, node cluster.Node, key string) (int64, bool, error) {
	status, body, err := c.do(ctx, node, http.MethodGet, "/kv/"+url.PathEscape(key), nil)
	if err != nil {
		return 0, false, err
	}

	if status == http.StatusNotFound {
		return 0, false, nil
	}

	if err := statusError(status, body); err != nil {
		return 0, false, err
	}

	value := gjson.GetBytes(body, "value")
	if !value.Exists() {
		return 0, false, &ResponseError{Status: status, Message: fmt.Sprintf("malformed read response %q", body)}
	}

	return value.Int(), true, nil
}

func (c *HTTP) Write(ctx context.Context, node cluster.Node, key string, value int64) error {
	payload := map[string]any{"value": value}

	status, body, err := c.do(ctx, node, http.MethodPut, "/kv/"+url.PathEscape(key), payload)
	if err != nil {
		return err
	}

	return statusError(status, body)
}

func (c *HTTP) CompareAndSwap(ctx context.Context, node cluster.Node, key string, old, new int64) error {
	payload := map[string]any{"old": old, "new": new}

	status, body, err := c.do(ctx, node, http.MethodPost, "/kv/"+url.PathEscape(key)+"/cas", payload)
	if err != nil {
		return err
	}

	return statusError(status, body)
}

func (c *HTTP) ValidatorSetCAS(ctx context.Context, node cluster.Node, version int64, pubKey string, votes int64) error {
	payload := map[string]any{"version": version, "pub_key": pubKey, "votes": votes}

	status, body, err := c.do(ctx, node, http.MethodPost, "/validators", payload)
	if err != nil {
		return err
	}

	return statusError(status, body)
}

func (c *HTTP) do(ctx context.Context, node cluster.Node, method, path string, payload any) (int, []byte, error) {
	addr, ok := c.addrs[node]
	if !ok {
		return 0, nil, errors.Wrapf(ErrAddressUnknown, "node %s", node)
	}

	var reqBody io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, errors.Wrap(err, "failed to encode request")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("http://%s%s", addr, path), reqBody)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, transportError(err)
	}

	return resp.StatusCode, body, nil
}

// transportError maps a failed round trip onto the client error classes.
func transportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.Mark(&ConnectionError{Message: err.Error()}, ErrConnectionRefused)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return errors.Mark(errors.Wrap(err, "request"), ErrTimeout)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET):
		return errors.Mark(errors.Wrap(err, "request"), ErrNoResponse)
	default:
		return &ConnectionError{Message: err.Error()}
	}
}

// statusError turns a non-2xx response into an error. The body, when it is
// a JSON error object, names the reason in "error.code".
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	code := gjson.GetBytes(body, "error.code").String()
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case code == "unauthorized", status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.Wrap(ErrUnauthorized, message)
	case code == "address_unknown":
		return errors.Wrap(ErrAddressUnknown, message)
	case code == "precondition_failed", code == "version_mismatch",
		status == http.StatusPreconditionFailed, status == http.StatusConflict:
		return errors.Wrap(ErrPrecondition, message)
	case status == http.StatusGatewayTimeout:
		return errors.Wrap(ErrTimeout, message)
	default:
		return &ResponseError{Status: status, Message: message}
	}
}
