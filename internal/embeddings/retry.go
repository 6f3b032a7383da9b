package embeddings

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// retryPolicy retries retryable provider failures with linearly growing
// delays capped at maxDelay.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(context.Context, time.Duration) error
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.baseDelay * time.Duration(attempt)
	if p.maxDelay > 0 && d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

func (p retryPolicy) do(ctx context.Context, fn func(attempt int) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = classifyProviderError(fn(attempt))
		if err == nil {
			return nil
		}
		if attempt >= p.maxRetries || !pkgerrors.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		if serr := sleep(ctx, p.delay(attempt+1)); serr != nil {
			return err
		}
	}
}

// httpStatusError is returned by the REST providers for non-2xx responses.
type httpStatusError struct {
	service string
	status  int
	body    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.service, e.status, e.body)
}

// classifyProviderError maps provider transport errors onto the error codes
// the retry loop understands.
func classifyProviderError(err error) error {
	if err == nil || pkgerrors.As(err) != nil {
		return err
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var httpErr *httpStatusError
	if stdErrors.As(err, &httpErr) {
		return wrapHTTPStatus(err, httpErr.status)
	}
	var apiErr *googleapi.Error
	if stdErrors.As(err, &apiErr) {
		return wrapHTTPStatus(err, apiErr.Code)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return pkgerrors.Wrap(pkgerrors.CodeRateLimit, err, "embedding provider throttled")
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "embedding provider unavailable")
		case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated, codes.NotFound:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "embedding request rejected")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "embedding provider failed")
}

func wrapHTTPStatus(err error, code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return pkgerrors.Wrap(pkgerrors.CodeRateLimit, err, "embedding provider throttled")
	case code >= 500:
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "embedding provider unavailable")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "embedding request rejected")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
