package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var retryableHTTP = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableGRPC = map[codes.Code]bool{
	codes.Aborted:           true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// isRetryable reports whether an insert failure is transient. Aggregate
// errors are retryable only when every member is.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) && multi != nil {
		return all(*multi, isRetryable)
	}
	var rows *cbigquery.PutMultiError
	if errors.As(err, &rows) && rows != nil {
		return all(*rows, func(r cbigquery.RowInsertionError) bool { return isRetryable(&r.Errors) })
	}
	var row *cbigquery.RowInsertionError
	if errors.As(err, &row) && row != nil {
		return all(row.Errors, isRetryable)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}
	var grpcErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &grpcErr) {
		if st := grpcErr.GRPCStatus(); st != nil {
			return retryableGRPC[st.Code()]
		}
	}
	return false
}

// all is false for an empty slice.
func all[T any](items []T, pred func(T) bool) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !pred(item) {
			return false
		}
	}
	return true
}
