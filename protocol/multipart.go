package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Form is a multipart payload assembled by the caller.
type Form struct {
	parts []formPart
}

type formPart struct {
	name     string
	value    string
	filename string
	content  io.Reader
}

// NewForm returns an empty Form.
func NewForm() *Form {
	return &Form{}
}

// AddField appends a plain form field.
func (f *Form) AddField(name, value string) *Form {
	f.parts = append(f.parts, formPart{name: name, value: value})
	return f
}

// AddFile appends a file part read from content.
func (f *Form) AddFile(name, filename string, content io.Reader) *Form {
	f.parts = append(f.parts, formPart{name: name, filename: filename, content: content})
	return f
}

// encode writes the form and returns the body with the content type
// produced by the multipart writer, boundary included.
func (f *Form) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range f.parts {
		if p.content == nil {
			if err := w.WriteField(p.name, p.value); err != nil {
				return nil, "", err
			}
			continue
		}
		part, err := w.CreateFormFile(p.name, p.filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, p.content); err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", p.filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Upload posts form to path and decodes the envelope payload into out.
func (c *Client) Upload(ctx context.Context, path, token string, form *Form, out any) error {
	if form == nil {
		form = NewForm()
	}
	body, contentType, err := form.encode()
	if err != nil {
		return fmt.Errorf("encoding multipart body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body, token)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return c.roundTrip(req, out)
}

// UploadMultipart posts form to path and returns the typed envelope payload.
func UploadMultipart[T any](ctx context.Context, c *Client, path, token string, form *Form) (T, error) {
	var out T
	if err := c.Upload(ctx, path, token, form, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
