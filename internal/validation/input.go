// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidQuantity возвращается для количества, не являющегося положительным целым.
var ErrInvalidQuantity = errors.New("quantity must be a positive integer")

// MaxUsernameLen ограничивает длину логина из таблицы доступа.
const MaxUsernameLen = 128

// IsValidQuantity проверяет, что количество является положительным целым.
func IsValidQuantity(qty int) bool {
	return qty >= 1
}

// ParseQuantity разбирает количество из поля формы.
func ParseQuantity(s string) (int, error) {
	qty, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !IsValidQuantity(qty) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	return qty, nil
}

// IsValidUsername проверяет логин: непустой, без пробельных и управляющих символов.
func IsValidUsername(username string) bool {
	if username == "" || len(username) > MaxUsernameLen {
		return false
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// NormalizeIP разбирает адрес из таблицы доступа. IPv4, записанный как IPv6 (::ffff:a.b.c.d),
// приводится к IPv4. Пустая строка означает «любой адрес».
func NormalizeIP(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("invalid IP %q: %w", s, err)
	}
	return addr.Unmap().String(), nil
}
