// Package middleware holds the gin request logging and timeout interceptors.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
	"moff.io/moff-wallet/pkg/log/meta"
)

const RequestIDHeader = "x-request-id"

// responseBodyWriter records the handler response body.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (r responseBodyWriter) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

type httpInfo struct {
	RequestID     string            `json:"request_id,omitempty"`
	Headers       map[string]string `json:"headers"`
	Method        string            `json:"method"`
	RequestAPI    string            `json:"request_api,omitempty"`
	RemoteAddr    string            `json:"remote_addr,omitempty"`
	Response      *response         `json:"response,omitempty"`
	ExecutionTime string            `json:"execution_time,omitempty"`
}

func newHTTPInfo(ctx *gin.Context) *httpInfo {
	return &httpInfo{
		RequestID:  meta.RequestID(ctx.Request.Context()),
		Headers:    requestHeaderFilter(ctx.Request.Header),
		Method:     ctx.Request.Method,
		RequestAPI: ctx.Request.RequestURI,
		RemoteAddr: ctx.ClientIP(),
	}
}

func (i *httpInfo) String() string {
	b, _ := json.Marshal(i)
	return string(b)
}

// RecoveredHTTPLog logs every request with its response and recovers handler
// panics into a 500.
func RecoveredHTTPLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rctx := meta.Begin(ctx.Request.Context())
		id := ctx.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		meta.WithRequestID(rctx, id)
		ctx.Request = ctx.Request.WithContext(rctx)
		ctx.Header("request-id", id)

		w := &responseBodyWriter{body: &bytes.Buffer{}, ResponseWriter: ctx.Writer}
		ctx.Writer = w

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error(errors.ErrorfAndReport("%v", r))
			}
			logHTTP(ctx, w, start)
		}()
		ctx.Next()
	}
}

const defaultRequestTimeout = time.Second * 60

func TimeoutHTTP(timeout ...time.Duration) gin.HandlerFunc {
	d := defaultRequestTimeout
	if len(timeout) != 0 && timeout[0] > 0 {
		d = timeout[0]
	}
	return func(ctx *gin.Context) {
		timeoutCtx, cancel := context.WithTimeout(ctx.Request.Context(), d)
		defer cancel()
		ctx.Request = ctx.Request.WithContext(timeoutCtx)
		ctx.Next()
	}
}

func logHTTP(ctx *gin.Context, w *responseBodyWriter, start time.Time) {
	if !ctx.Writer.Written() {
		ctx.JSON(http.StatusInternalServerError, map[string]interface{}{
			"code": 5000,
			"msg":  "Server internal error",
		})
	}

	s := w.Status()
	info := newHTTPInfo(ctx)
	info.Response = decodeHandlerResponse(w.body.Bytes(), s)
	info.ExecutionTime = fmt.Sprintf("%vms", time.Since(start).Milliseconds())
	switch {
	case s < http.StatusBadRequest:
		log.Info(info)
	case s >= http.StatusInternalServerError:
		log.Error(info)
	default:
		log.Warn(info)
	}
}

// response is the part of a handler response worth logging.
type response struct {
	ProtocolCode int         `json:"protocol_code"`
	Error        interface{} `json:"error,omitempty"`
	Message      interface{} `json:"msg,omitempty"`
}

func decodeHandlerResponse(respBody []byte, httpCode int) *response {
	var resp response
	_ = json.Unmarshal(respBody, &resp)
	resp.ProtocolCode = httpCode
	return &resp
}

var excludedHeaders = map[string]bool{
	"token":         true,
	"access-token":  true,
	"authorization": true,
	"cookie":        true,
}

func requestHeaderFilter(headers map[string][]string) map[string]string {
	filtered := make(map[string]string)
	for k, v := range headers {
		k = strings.ToLower(k)
		if excludedHeaders[k] {
			continue
		}
		filtered[k] = strings.Join(v, ";")
	}
	return filtered
}
