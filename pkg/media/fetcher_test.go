package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxrelay/internal/models"
)

func TestFetch_FileNameSources(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    string
	}{
		{
			name:    "X-File-Name wins",
			path:    "/download/abc",
			headers: map[string]string{"X-File-Name": "report.pdf", "Content-Disposition": `attachment; filename="other.pdf"`},
			want:    "report.pdf",
		},
		{
			name:    "content disposition",
			path:    "/download/abc.bin",
			headers: map[string]string{"Content-Disposition": `attachment; filename="notes.txt"`},
			want:    "notes.txt",
		},
		{
			name: "last path segment",
			path: "/files/clip.mp4",
			want: "clip.mp4",
		},
		{
			name:    "extension from content type",
			path:    "/files/image",
			headers: map[string]string{"Content-Type": "image/png"},
			want:    "image.png",
		},
		{
			name: "nothing to derive",
			path: "/",
			want: "",
		},
		{
			name:    "directory components stripped",
			path:    "/x",
			headers: map[string]string{"X-File-Name": "../../etc/passwd"},
			want:    "passwd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				_, _ = w.Write([]byte("payload"))
			}))
			defer server.Close()

			f := NewFetcher(models.MediaConfig{})
			dl, err := f.Fetch(context.Background(), server.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), dl.Data)
			assert.Equal(t, tt.want, dl.FileName)
		})
	}
}

func TestFetch_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 2*1024*1024)))
		default:
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer server.Close()

	f := NewFetcher(models.MediaConfig{MaxSizeMB: 1})

	_, err := f.Fetch(context.Background(), server.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = f.Fetch(context.Background(), server.URL+"/big")
	require.Error(t, err)

	_, err = f.Fetch(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")

	_, err = f.Fetch(context.Background(), "https:///nohost")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, server.URL+"/ok")
	require.Error(t, err)
}

func TestFetch_SendsConfiguredHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(models.MediaConfig{}).WithHeader("Authorization", "Bearer tok")
	_, err := f.Fetch(context.Background(), server.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got)
}
