// Package photo prepares survey photos for upload.
package photo

import (
	"bytes"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	apperrors "github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/errors"
	"github.com/cbotelho/reurb-coleta-dados-p1swk2ke1-sub001/internal/models"
)

const (
	DefaultMaxDimension = 1920
	DefaultJPEGQuality  = 85
)

// Preparer sniffs the real content type of a photo and downscales images
// larger than the configured bound. It satisfies sync.PhotoPreparer.
type Preparer struct {
	maxDimension int
	jpegQuality  int
}

// NewPreparer creates a Preparer. Non-positive values use the defaults.
func NewPreparer(maxDimension, jpegQuality int) *Preparer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Preparer{
		maxDimension: maxDimension,
		jpegQuality:  jpegQuality,
	}
}

// DetectMIME returns the sniffed MIME type of data without parameters.
func DetectMIME(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// Prepare returns the photo to upload. The result always carries the
// sniffed MIME type. Images larger than the bound are re-encoded as JPEG;
// everything else, including formats imaging cannot decode, keeps its
// bytes. The input is never modified.
func (p *Preparer) Prepare(in *models.PhotoBlob) (*models.PhotoBlob, error) {
	if in == nil || len(in.Data) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "photo is empty")
	}

	mime := DetectMIME(in.Data)
	passThrough := &models.PhotoBlob{Data: in.Data, MimeType: mime}
	if !strings.HasPrefix(mime, "image/") {
		return passThrough, nil
	}

	img, err := imaging.Decode(bytes.NewReader(in.Data), imaging.AutoOrientation(true))
	if err != nil {
		return passThrough, nil
	}

	b := img.Bounds()
	if b.Dx() <= p.maxDimension && b.Dy() <= p.maxDimension {
		return passThrough, nil
	}

	resized := imaging.Fit(img, p.maxDimension, p.maxDimension, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(p.jpegQuality)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode photo", err)
	}
	return &models.PhotoBlob{Data: buf.Bytes(), MimeType: "image/jpeg"}, nil
}
