// Package ipresolve определяет адрес клиента для проверки разрешённого IP.
package ipresolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// Resolver определяет адрес клиента, выполнившего запрос.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (netip.Addr, error)
}

// LookupError описывает неудачную попытку определить адрес.
type LookupError struct {
	Source string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolve caller ip via %s: %v", e.Source, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// RequestResolver берёт адрес из RemoteAddr запроса. За доверенным прокси RemoteAddr
// заранее переписывается middleware RealIP.
type RequestResolver struct{}

// Resolve возвращает адрес из RemoteAddr.
func (RequestResolver) Resolve(_ context.Context, r *http.Request) (netip.Addr, error) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}, &LookupError{Source: "request", Err: err}
	}
	return addr.Unmap(), nil
}

// DefaultEchoServices перечисляет публичные сервисы, возвращающие внешний адрес текстом.
var DefaultEchoServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://checkip.amazonaws.com",
	"https://ident.me",
}

const maxEchoBody = 256

// EchoResolver опрашивает публичные сервисы по очереди и возвращает первый корректный адрес.
// Определяется внешний адрес самого сервера, поэтому режим подходит только для портала,
// запущенного на машине клиента.
type EchoResolver struct {
	services   []string
	httpClient *http.Client
}

// NewEchoResolver создаёт EchoResolver с указанным таймаутом на каждый сервис.
func NewEchoResolver(services []string, timeout time.Duration) *EchoResolver {
	if len(services) == 0 {
		services = DefaultEchoServices
	}
	return &EchoResolver{
		services: services,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Resolve опрашивает сервисы и возвращает адрес либо LookupError со всеми ошибками.
func (e *EchoResolver) Resolve(ctx context.Context, _ *http.Request) (netip.Addr, error) {
	var errs []error
	for _, url := range e.services {
		addr, err := e.query(ctx, url)
		if err == nil {
			return addr, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", url, err))

		if ctx.Err() != nil {
			break
		}
	}
	return netip.Addr{}, &LookupError{Source: "echo", Err: errors.Join(errs...)}
}

func (e *EchoResolver) query(ctx context.Context, url string) (netip.Addr, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("read body: %w", err)
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse address: %w", err)
	}
	return addr.Unmap(), nil
}
