// Package signer формирует ссылки на скачивание готовых книг.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL задаёт адрес файлового сервера по умолчанию.
const DefaultBaseURL = "https://files.example.com/download"

// Signer строит ссылку на скачивание книги с указанным сроком действия.
type Signer interface {
	Sign(bookID string, expires time.Time) string
}

// TemplateSigner строит ссылку вида <base>/<id>?exp=<unix> без подписи.
type TemplateSigner struct {
	baseURL string
}

// NewTemplateSigner создаёт TemplateSigner. Пустой baseURL заменяется на DefaultBaseURL.
func NewTemplateSigner(baseURL string) *TemplateSigner {
	return &TemplateSigner{baseURL: normalizeBase(baseURL)}
}

// Sign возвращает ссылку на скачивание.
func (s *TemplateSigner) Sign(bookID string, expires time.Time) string {
	return fmt.Sprintf("%s/%s?exp=%d", s.baseURL, bookID, expires.Unix())
}

// HMACSigner дополняет ссылку подписью HMAC-SHA256 от идентификатора и срока действия.
type HMACSigner struct {
	baseURL   string
	secretKey []byte
}

// NewHMACSigner создаёт HMACSigner с указанным секретным ключом.
func NewHMACSigner(baseURL, secret string) *HMACSigner {
	return &HMACSigner{
		baseURL:   normalizeBase(baseURL),
		secretKey: []byte(secret),
	}
}

// Sign возвращает подписанную ссылку на скачивание.
func (s *HMACSigner) Sign(bookID string, expires time.Time) string {
	exp := strconv.FormatInt(expires.Unix(), 10)
	return fmt.Sprintf("%s/%s?exp=%s&sig=%s", s.baseURL, bookID, exp, s.signature(bookID, exp))
}

// Verify проверяет подпись ссылки и срок её действия на момент now.
// Возвращает идентификатор книги.
func (s *HMACSigner) Verify(rawURL string, now time.Time) (string, bool) {
	if !strings.HasPrefix(rawURL, s.baseURL+"/") {
		return "", false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	bookID := strings.TrimPrefix(u.Path, mustPath(s.baseURL)+"/")
	if bookID == "" || strings.Contains(bookID, "/") {
		return "", false
	}

	exp := u.Query().Get("exp")
	sig := u.Query().Get("sig")

	if !hmac.Equal([]byte(sig), []byte(s.signature(bookID, exp))) {
		return "", false
	}

	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", false
	}
	if !now.Before(time.Unix(expUnix, 0)) {
		return "", false
	}

	return bookID, true
}

func (s *HMACSigner) signature(bookID, exp string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(bookID + "." + exp))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalizeBase(baseURL string) string {
	if baseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

func mustPath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Path
}
