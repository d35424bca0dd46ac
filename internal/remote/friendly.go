package remote

import (
	"context"
	"errors"
	"strings"
)

// Category buckets raw failures into the small set shown to users.
type Category string

const (
	CategoryAuth        Category = "authentication"
	CategoryNotFound    Category = "not_found"
	CategoryRateLimited Category = "rate_limited"
	CategoryTimedOut    Category = "timed_out"
	CategoryOther       Category = "other"
)

// Categorize maps an error onto a display category. It is a pure function
// over the error's textual signature plus the gate's classification.
func Categorize(err error) Category {
	if err == nil {
		return CategoryOther
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return CategoryTimedOut
	}
	if isThrottledStatus(err) || isThrottledSignature(err) {
		return CategoryRateLimited
	}
	msg := strings.ToLower(err.Error())
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 401, 403:
			return CategoryAuth
		case 404:
			return CategoryNotFound
		}
	}
	switch {
	case containsAny(msg, "api key", "unauthorized", "unauthenticated", "forbidden", "invalid credentials", "permission denied"):
		return CategoryAuth
	case containsAny(msg, "not found", "unknown model", "no such model", "does not exist"):
		return CategoryNotFound
	default:
		return CategoryOther
	}
}

func containsAny(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

var friendlyMessages = map[string]map[Category]string{
	"en": {
		CategoryAuth:        "Authentication failed. Check the configured API credentials.",
		CategoryNotFound:    "The requested resource or model was not found.",
		CategoryRateLimited: "The provider is rate limiting requests. Try again shortly.",
		CategoryTimedOut:    "The request timed out. Try again shortly.",
		CategoryOther:       "Something went wrong",
	},
	"id": {
		CategoryAuth:        "Autentikasi gagal. Periksa kredensial API yang dikonfigurasi.",
		CategoryNotFound:    "Sumber daya atau model yang diminta tidak ditemukan.",
		CategoryRateLimited: "Penyedia sedang membatasi permintaan. Coba lagi sebentar lagi.",
		CategoryTimedOut:    "Permintaan melebihi batas waktu. Coba lagi sebentar lagi.",
		CategoryOther:       "Terjadi kesalahan",
	},
}

// FriendlyMessage renders an error as a human-readable status message in the
// requested locale. Uncategorized failures keep their cause visible.
func FriendlyMessage(err error, locale string) string {
	if err == nil {
		return ""
	}
	messages, ok := friendlyMessages[strings.ToLower(locale)]
	if !ok {
		messages = friendlyMessages["en"]
	}
	category := Categorize(err)
	if category == CategoryOther {
		return messages[CategoryOther] + ": " + err.Error()
	}
	return messages[category]
}
