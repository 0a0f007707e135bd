package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type responseData struct {
	status int
	size   int
}

type loggingResponseWriter struct {
	http.ResponseWriter
	data *responseData
}

func (l *loggingResponseWriter) Write(b []byte) (int, error) {
	if l.data.status == 0 {
		l.data.status = http.StatusOK
	}
	size, err := l.ResponseWriter.Write(b)
	l.data.size += size
	return size, err
}

func (l *loggingResponseWriter) WriteHeader(statusCode int) {
	if l.data.status == 0 {
		l.data.status = statusCode
	}
	l.ResponseWriter.WriteHeader(statusCode)
}

// Logger возвращает middleware, записывающий в журнал метод, путь, статус, размер ответа и длительность запроса.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			data := &responseData{}

			next.ServeHTTP(&loggingResponseWriter{ResponseWriter: w, data: data}, r)

			status := data.status
			if status == 0 {
				status = http.StatusOK
			}

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.String("remote", r.RemoteAddr),
				zap.Int("status", status),
				zap.Int("size", data.size),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
