package testutil

import (
	"net/http"

	"int20h/pkg/requestcontext"
)

// WithClientIP sets the client IP the way the ClientMetadata middleware
// would.
func WithClientIP(req *http.Request, ip string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, req.UserAgent())
	return req.WithContext(ctx)
}

// WithRequestID sets the request id the way the RequestID middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
