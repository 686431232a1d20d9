package protocol_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/labflow/protocol"
)

func TestFilenameFromContentDisposition(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{`attachment; filename="scores.csv"`, "scores.csv", true},
		{`attachment; FILENAME="Report 1.pdf"`, "Report 1.pdf", true},
		{`attachment; filename=scores.csv`, "", false},
		{`attachment`, "", false},
		{``, "", false},
	}
	for _, tt := range tests {
		got, ok := protocol.FilenameFromContentDisposition(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func binaryHandler(disposition string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			jsonHandler(http.StatusUnauthorized, `{"code":40100,"message":"login required"}`)(w, r)
			return
		}
		if disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		}
		w.Header().Set("Content-Type", "text/csv")
		io.WriteString(w, "id,score\n1,90\n")
	}
}

func TestDownloadAsFileUsesHeaderFilename(t *testing.T) {
	dir := t.TempDir()
	c := newTestClient(t, binaryHandler(`attachment; filename="scores.csv"`),
		protocol.WithSaver(protocol.DirSaver{Dir: dir}))

	dl, err := c.DownloadAsFile(t.Context(), "/api/export", "tok", "fallback.csv")
	require.NoError(t, err)
	assert.Equal(t, "scores.csv", dl.Filename)
	assert.Equal(t, filepath.Join(dir, "scores.csv"), dl.Location)

	data, err := os.ReadFile(dl.Location)
	require.NoError(t, err)
	assert.Equal(t, "id,score\n1,90\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestDownloadAsFileFallsBackWithoutHeader(t *testing.T) {
	var calls int
	var saved string
	saver := protocol.SaverFunc(func(ctx context.Context, filename string, r io.Reader) (string, error) {
		calls++
		saved = filename
		io.Copy(io.Discard, r)
		return "mem://" + filename, nil
	})
	c := newTestClient(t, binaryHandler(""), protocol.WithSaver(saver))

	dl, err := c.DownloadAsFile(t.Context(), "/api/export", "tok", "成绩单 2024.csv")
	require.NoError(t, err)
	assert.Equal(t, "成绩单 2024.csv", dl.Filename)
	assert.Equal(t, "成绩单 2024.csv", saved)
	assert.Equal(t, 1, calls)
}

func TestDownloadAsFileSurfacesEnvelopeError(t *testing.T) {
	saver := protocol.SaverFunc(func(ctx context.Context, filename string, r io.Reader) (string, error) {
		t.Fatal("saver must not run on error")
		return "", nil
	})
	c := newTestClient(t, binaryHandler(""), protocol.WithSaver(saver))

	_, err := c.DownloadAsFile(t.Context(), "/api/export", "bad", "f.csv")
	require.Error(t, err)
	assert.True(t, protocol.IsApplication(err))
	assert.Contains(t, err.Error(), "login required")
}

func TestDownloadAsFileNonJSONErrorIsTransport(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	_, err := c.DownloadAsFile(t.Context(), "/api/export", "tok", "f.csv")
	require.Error(t, err)
	assert.True(t, protocol.IsTransport(err))
	assert.Equal(t, http.StatusBadGateway, protocol.StatusOf(err))
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestDownloadAsFileSaverFailure(t *testing.T) {
	boom := errors.New("disk full")
	saver := protocol.SaverFunc(func(ctx context.Context, filename string, r io.Reader) (string, error) {
		return "", boom
	})
	c := newTestClient(t, binaryHandler(""), protocol.WithSaver(saver))
	_, err := c.DownloadAsFile(t.Context(), "/api/export", "tok", "f.csv")
	assert.ErrorIs(t, err, boom)
}

func TestDirSaverStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	loc, err := protocol.DirSaver{Dir: dir}.Save(t.Context(), "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), loc)
}

func TestFetchBinary(t *testing.T) {
	c := newTestClient(t, binaryHandler(`inline; filename="a.txt"`))
	bin, err := c.FetchBinary(t.Context(), "/api/attachments/1", "tok")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", bin.Filename)
	assert.Equal(t, "text/csv", bin.ContentType)
	assert.Equal(t, "id,score\n1,90\n", string(bin.Data))

	c = newTestClient(t, binaryHandler(""))
	bin, err = c.FetchBinary(t.Context(), "/api/attachments/1", "tok")
	require.NoError(t, err)
	assert.Empty(t, bin.Filename)
}

type uploadResult struct {
	ID       int    `json:"id"`
	FileName string `json:"fileName"`
}

func TestUploadMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "multipart/form-data", mediaType)
		assert.NotEmpty(t, params["boundary"])

		mr := multipart.NewReader(r.Body, params["boundary"])
		form, err := mr.ReadForm(1 << 20)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, []string{"42"}, form.Value["submissionId"])
		if !assert.Len(t, form.File["file"], 1) {
			return
		}
		fh := form.File["file"][0]
		f, err := fh.Open()
		if !assert.NoError(t, err) {
			return
		}
		content, _ := io.ReadAll(f)
		f.Close()
		assert.Equal(t, "report body", string(content))

		jsonHandler(http.StatusOK, `{"code":0,"data":{"id":7,"fileName":"`+fh.Filename+`"}}`)(w, r)
	}))

	form := protocol.NewForm().
		AddField("submissionId", "42").
		AddFile("file", "report.pdf", bytes.NewBufferString("report body"))
	res, err := protocol.UploadMultipart[uploadResult](t.Context(), c, "/api/submissions/42/attachments", "tok", form)
	require.NoError(t, err)
	assert.Equal(t, 7, res.ID)
	assert.Equal(t, "report.pdf", res.FileName)
}

func TestUploadMultipartApplicationError(t *testing.T) {
	c := newTestClient(t, jsonHandler(http.StatusBadRequest, `{"code":40000,"message":"file too large"}`))
	_, err := protocol.UploadMultipart[uploadResult](t.Context(), c, "/api/upload", "tok", nil)
	require.Error(t, err)
	assert.True(t, protocol.IsApplication(err))
	assert.Contains(t, err.Error(), "file too large")
}
