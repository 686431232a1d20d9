package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

var filenamePattern = regexp.MustCompile(`(?i)filename="([^"]+)"`)

// FilenameFromContentDisposition extracts the quoted filename parameter from
// a Content-Disposition header value. It reports false when the header is
// empty or does not carry a quoted filename.
func FilenameFromContentDisposition(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	m := filenamePattern.FindStringSubmatch(value)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// Binary is a raw payload fetched from the backend.
type Binary struct {
	Data []byte
	// Filename is empty when the response carried no usable Content-Disposition.
	Filename string
	// ContentType is empty when the response declared none.
	ContentType string
}

// Download describes a payload saved by DownloadAsFile.
type Download struct {
	Filename string
	Location string
}

// getBinary performs an authenticated GET and returns the response when the
// status is a success. The caller owns the response body.
func (c *Client) getBinary(ctx context.Context, path, token string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if statusOK(resp.StatusCode) {
		return resp, nil
	}
	defer resp.Body.Close()

	if isJSONContentType(resp.Header.Get("Content-Type")) {
		if _, err := readEnvelope(resp); err != nil {
			return nil, err
		}
	}
	return nil, transportError(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
}

// FetchBinary downloads path and returns the payload with its metadata.
func (c *Client) FetchBinary(ctx context.Context, path, token string) (*Binary, error) {
	resp, err := c.getBinary(ctx, path, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(resp.StatusCode, "reading response body", err)
	}
	filename, _ := FilenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	return &Binary{
		Data:        data,
		Filename:    filename,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// DownloadAsFile downloads path and hands the payload to the configured
// Saver exactly once. The filename comes from Content-Disposition, falling
// back to fallbackFilename.
func (c *Client) DownloadAsFile(ctx context.Context, path, token, fallbackFilename string) (Download, error) {
	resp, err := c.getBinary(ctx, path, token)
	if err != nil {
		return Download{}, err
	}
	defer resp.Body.Close()

	filename, ok := FilenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if !ok {
		filename = fallbackFilename
	}

	location, err := c.saver.Save(ctx, filename, resp.Body)
	if err != nil {
		return Download{}, fmt.Errorf("saving %s: %w", filename, err)
	}
	c.logger.Info().Str("filename", filename).Str("location", location).Msg("download saved")
	return Download{Filename: filename, Location: location}, nil
}
