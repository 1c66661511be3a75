// Package article implements the create-article form: its state, the publish
// workflow that uploads the image and stores the record, and the HTTP surface.
package article

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Record is a published article. Repositories fill in ID on insert.
type Record struct {
	ID          string    `json:"id"          bson:"_id,omitempty" gorm:"primaryKey;type:char(36)"`
	Title       string    `json:"title"       bson:"title"         gorm:"type:text;not null"`
	Description string    `json:"description" bson:"description"   gorm:"type:text;not null"`
	ImageURL    string    `json:"imageUrl"    bson:"imageUrl"      gorm:"column:image_url;type:text;not null"`
	CreatedAt   time.Time `json:"createdAt"   bson:"createdAt"     gorm:"not null"`
}

// Image is a pending image file selected on the form.
type Image struct {
	Name        string
	ContentType string
	Size        int64
	open        func() (io.ReadCloser, error)
}

// NewImage describes an image whose bytes are produced by open. open may be
// called more than once and must return a fresh reader each time.
func NewImage(name, contentType string, size int64, open func() (io.ReadCloser, error)) *Image {
	return &Image{Name: name, ContentType: contentType, Size: size, open: open}
}

// ImageFromBytes keeps the image in memory.
func ImageFromBytes(name, contentType string, data []byte) *Image {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return NewImage(name, contentType, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// ImageFromFile reads the image lazily from path.
func ImageFromFile(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image %q is a directory", path)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return NewImage(filepath.Base(path), contentType, info.Size(), func() (io.ReadCloser, error) {
		return os.Open(path)
	}), nil
}

// Open returns a reader over the image bytes.
func (i *Image) Open() (io.ReadCloser, error) {
	if i.open == nil {
		return nil, fmt.Errorf("image %q has no content", i.Name)
	}
	return i.open()
}
