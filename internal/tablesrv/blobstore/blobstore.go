// Package blobstore is the contract between file cells and the object store
// that holds their bytes.
package blobstore

import (
	"context"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/floorbook/floorbook/internal/common/apperrors"
)

// PresignedURLSentinel separates a stored path from its presigned URL in a
// rendered file cell. It cannot occur in an object key or a URL.
const PresignedURLSentinel = "\x00floorbook-presigned\x00"

var (
	ErrBlobStore apperrors.Error = apperrors.New("blob store error").
			SetClass(apperrors.ClassStorage).SetStatusCode(http.StatusInternalServerError)
	ErrNotConfigured apperrors.Error = ErrBlobStore.New("blob store is not configured")
	ErrUpload        apperrors.Error = ErrBlobStore.New("failed to store blob")
	ErrResolve       apperrors.Error = ErrBlobStore.New("failed to resolve blob")
	ErrDelete        apperrors.Error = ErrBlobStore.New("failed to delete blob")
	ErrInvalidName   apperrors.Error = ErrBlobStore.New("invalid blob name").
				SetClass(apperrors.ClassValidation).SetStatusCode(http.StatusBadRequest)
)

// Upload is the payload of a file cell write.
type Upload struct {
	Name string    // client side file name
	Body io.Reader // file content
	Size int64     // content length, -1 when unknown
}

// Store persists file cell content. Implementations never overwrite an
// existing object: a colliding name is stored under a "n-" prefixed key.
type Store interface {
	// Store saves the upload under name and returns the path it was saved at.
	Store(ctx context.Context, name string, u *Upload) (string, error)
	// Resolve returns a time limited URL for a stored path.
	Resolve(ctx context.Context, path string) (string, error)
	// Delete removes a stored path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}

// JoinPresigned renders a file cell as path, sentinel and URL.
func JoinPresigned(p, url string) string {
	return p + PresignedURLSentinel + url
}

// SplitPresigned undoes JoinPresigned. ok is false when s carries no
// sentinel, in which case s is returned as the path.
func SplitPresigned(s string) (p, url string, ok bool) {
	p, url, ok = strings.Cut(s, PresignedURLSentinel)
	return
}

// CleanName reduces a client supplied file name to a safe object key base.
func CleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean("/" + name))
	name = strings.TrimSpace(name)
	if name == "" || name == "/" || name == "." || name == ".." {
		return "", ErrInvalidName.Msg("invalid blob name: empty")
	}
	if strings.Contains(name, PresignedURLSentinel) || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName.Msg("invalid blob name: reserved characters")
	}
	return name, nil
}

// CollisionName returns the key tried on the n-th collision for name.
func CollisionName(name string, n int) string {
	if n == 0 {
		return name
	}
	dir, base := path.Split(name)
	return dir + strconv.Itoa(n) + "-" + base
}
