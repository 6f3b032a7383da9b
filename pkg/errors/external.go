package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classifyExternal maps untyped client errors from Google APIs (GCS,
// BigQuery, Gemini over REST) and gRPC (Pub/Sub) onto our codes so that
// consumers ack or nack them correctly.
func classifyExternal(err error) (Code, bool) {
	var gerr *googleapi.Error
	if stdErrors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return CodeRateLimit, true
		case gerr.Code == http.StatusNotFound:
			return CodeNotFound, true
		case gerr.Code >= 500:
			return CodeTransient, true
		case gerr.Code >= 400:
			return CodeDependency, true
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return CodeRateLimit, true
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return CodeTransient, true
		case codes.NotFound:
			return CodeNotFound, true
		case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied, codes.Unauthenticated:
			return CodeDependency, true
		}
	}
	return "", false
}

// PGInfo is the useful part of a Postgres server error.
type PGInfo struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message"`
}

func pgInfo(err error) *PGInfo {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &PGInfo{Code: pgxErr.Code, Constraint: pgxErr.ConstraintName, Table: pgxErr.TableName,
			Column: pgxErr.ColumnName, Detail: pgxErr.Detail, Message: pgxErr.Message}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return &PGInfo{Code: string(pqErr.Code), Constraint: pqErr.Constraint, Table: pqErr.Table,
			Column: pqErr.Column, Detail: pqErr.Detail, Message: pqErr.Message}
	}
	return nil
}

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`
	Postgres   *PGInfo  `json:"postgres,omitempty"`
	RPCCode    string   `json:"rpc_code,omitempty"`
	HTTPStatus int      `json:"http_status,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{
		TopMessage: err.Error(),
		Code:       CodeOf(err),
		Retryable:  IsRetryable(err),
		Postgres:   pgInfo(err),
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	var gerr *googleapi.Error
	if stdErrors.As(err, &gerr) {
		d.HTTPStatus = gerr.Code
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		d.RPCCode = st.Code().String()
	}
	return d
}

// Fields renders the dump as logger fields, omitting empty parts.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"retryable":   d.Retryable,
		"error_chain": d.Chain,
	}
	if d.Postgres != nil {
		fields["pg_code"] = d.Postgres.Code
		fields["pg_message"] = d.Postgres.Message
		if d.Postgres.Constraint != "" {
			fields["pg_constraint"] = d.Postgres.Constraint
		}
		if d.Postgres.Table != "" {
			fields["pg_table"] = d.Postgres.Table
		}
		if d.Postgres.Detail != "" {
			fields["pg_detail"] = d.Postgres.Detail
		}
	}
	if d.RPCCode != "" {
		fields["rpc_code"] = d.RPCCode
	}
	if d.HTTPStatus != 0 {
		fields["upstream_status"] = d.HTTPStatus
	}
	return fields
}
