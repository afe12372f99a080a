package lexiread

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/chyroc/gorequests"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	pathRegister       = "api/auth/register"
	pathLogin          = "api/auth/login"
	pathLogout         = "api/auth/logout"
	pathForgotPassword = "api/auth/forgot-password"
	pathVerifyOTP      = "api/auth/verify-otp"
	pathResendOTP      = "api/auth/resend-otp"
	pathResetPassword  = "api/auth/reset-password"
	pathChat           = "api/chat"
)

// transport sends JSON requests and turns responses into typed errors.
type transport struct {
	config  *Config
	session *gorequests.Session
	logger  *logrus.Logger
	// retry enables backoff on failures to connect. A request that may have
	// reached the server is never sent twice.
	retry bool
}

// newRequest never uses the gorequests stdout logger: it prints bodies,
// which carry passwords, OTPs and tokens.
func (t *transport) newRequest(method, url string) *gorequests.Request {
	var request *gorequests.Request
	if t.session != nil {
		request = t.session.New(method, url)
	} else {
		request = gorequests.New(method, url)
	}
	return request.WithLogger(gorequests.NewDiscardLogger())
}

func (t *transport) headers(token string) map[string]string {
	headers := map[string]string{
		"Accept":       "application/json",
		"Content-Type": "application/json",
		"User-Agent":   t.config.userAgent(),
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}

func (t *transport) backOff(ctx context.Context) backoff.BackOff {
	if !t.retry || t.config.RetryMaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = t.config.RetryMaxElapsed
	return backoff.WithContext(b, ctx)
}

// post sends body to path and decodes a 2xx response into out.
func (t *transport) post(ctx context.Context, url, token string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return wrapError(CodeInvalidRequest, err, "encode request")
	}

	ctx, cancel := withDefaultTimeout(ctx, t.config.timeout())
	defer cancel()

	var (
		status int
		text   string
	)
	operation := func() error {
		remaining := t.config.timeout()
		if deadline, ok := ctx.Deadline(); ok {
			remaining = time.Until(deadline)
		}
		if remaining <= 0 {
			return backoff.Permanent(context.DeadlineExceeded)
		}
		request := t.newRequest(http.MethodPost, url).
			WithContext(ctx).
			WithTimeout(remaining).
			WithHeaders(t.headers(token)).
			WithBody(string(payload))

		// gorequests does not bind the context to the wire request, so a
		// cancelled caller stops waiting here; the timeout above bounds the
		// abandoned request.
		done := make(chan attemptResult, 1)
		go func() {
			done <- send(request)
		}()
		var result attemptResult
		select {
		case result = <-done:
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
		if result.err != nil {
			if ctx.Err() != nil || !isDialError(result.err) {
				return backoff.Permanent(result.err)
			}
			t.logger.WithError(result.err).WithField("url", url).Warn("connect failed")
			return result.err
		}
		status, text = result.status, result.text
		return nil
	}
	if err := backoff.Retry(operation, t.backOff(ctx)); err != nil {
		return wrapError(CodeTransport, err, "request failed")
	}
	t.logger.WithFields(logrus.Fields{"url": url, "status": status}).Debug("response received")

	if status < 200 || status >= 300 {
		return serverError(status, text)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return wrapError(CodeDecode, err, "unexpected response shape")
	}
	return nil
}

type attemptResult struct {
	status int
	text   string
	err    error
}

func send(request *gorequests.Request) attemptResult {
	status, err := request.ResponseStatus()
	if err != nil {
		return attemptResult{err: err}
	}
	text, err := request.Text()
	if err != nil {
		return attemptResult{err: errors.Wrap(err, "read response body")}
	}
	return attemptResult{status: status, text: text}
}

// isDialError reports whether err happened before any byte of the request
// was written, which makes it safe to send the request again.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func serverError(status int, text string) *Error {
	code := CodeServer
	if status == http.StatusUnauthorized {
		code = CodeUnauthenticated
	}
	resp := &ServerErrorResponse{}
	if err := json.Unmarshal([]byte(text), resp); err == nil && resp.Message != "" {
		return &Error{Code: code, Status: status, Message: resp.Message}
	}
	message := strings.TrimSpace(text)
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Code: code, Status: status, Message: message}
}

func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
