// Package photo stores attempt photos and returns the URL recorded on the
// attempt.
package photo

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Store persists one photo and returns its public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// Sniff returns the content type of data and the file extension to store it
// under. Non-image payloads are rejected.
func Sniff(data []byte, declared string) (contentType, ext string, err error) {
	if len(data) == 0 {
		return "", "", eris.New("photo: empty upload")
	}
	ct := http.DetectContentType(data)
	if ext, ok := allowedTypes[ct]; ok {
		return ct, ext, nil
	}
	// DetectContentType does not know HEIC; trust the client for it.
	if strings.EqualFold(declared, "image/heic") {
		return "image/heic", ".heic", nil
	}
	return "", "", eris.Errorf("photo: unsupported content type %s", ct)
}

// ObjectKey builds a collision-free object name scoped by company and address.
func ObjectKey(companyID, addressID, ext string) string {
	return path.Join("attempts", companyID, addressID, uuid.New().String()+ext)
}
