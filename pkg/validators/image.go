package validators

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrImagesTooLarge       = errors.New("attached images are too large")
	ErrTooManyImages        = errors.New("too many images attached")
	ErrImageTypeUnsupported = errors.New("only jpeg, png, webp and gif images are allowed")
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Image is an attachment that passed validation and is held in memory
type Image struct {
	Name        string
	ContentType string
	Ext         string
	Data        []byte
}

// ImagesValidator checks the attachments of a submission against the shared
// limits and reads them. The returned code is the HTTP status to reply with.
func ImagesValidator(files []*multipart.FileHeader, maxTotal int64, maxFiles int) (int, []Image, error) {
	if len(files) > maxFiles {
		return http.StatusBadRequest, nil, ErrTooManyImages
	}

	// Headers first, cheap for legit clients
	var total int64
	for _, fh := range files {
		total += fh.Size
	}

	if total > maxTotal {
		return http.StatusBadRequest, nil, ErrImagesTooLarge
	}

	images := make([]Image, 0, len(files))
	remaining := maxTotal

	for _, fh := range files {
		img, n, err := readImage(fh, remaining)
		if err != nil {
			if errors.Is(err, ErrImagesTooLarge) || errors.Is(err, ErrImageTypeUnsupported) {
				return http.StatusBadRequest, nil, err
			}

			return http.StatusInternalServerError, nil, err
		}

		remaining -= n
		images = append(images, img)
	}

	return 0, images, nil
}

func readImage(fh *multipart.FileHeader, limit int64) (Image, int64, error) {
	f, err := fh.Open()
	if err != nil {
		return Image{}, 0, fmt.Errorf("failed to open attachment, %w", err)
	}
	defer f.Close()

	// Never trust the header size, read one byte past the budget
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return Image{}, 0, fmt.Errorf("failed to read attachment, %w", err)
	}

	n := int64(len(data))
	if n > limit {
		return Image{}, 0, ErrImagesTooLarge
	}

	mime := mimetype.Detect(data)
	if !slices.ContainsFunc(allowedImageTypes, mime.Is) {
		return Image{}, 0, ErrImageTypeUnsupported
	}

	return Image{
		Name:        fh.Filename,
		ContentType: mime.String(),
		Ext:         mime.Extension(),
		Data:        data,
	}, n, nil
}
