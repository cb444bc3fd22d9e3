package linkpreview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/internal/models"
)

type memSaver struct {
	mu    sync.Mutex
	saved []*models.LinkPreview
}

func (m *memSaver) Save(_ context.Context, p *models.LinkPreview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, p)
	return nil
}

func (m *memSaver) all() []*models.LinkPreview {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.LinkPreview(nil), m.saved...)
}

func TestFirstURL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain url", "check https://example.com/docs out", "https://example.com/docs"},
		{"http scheme", "see http://example.com", "http://example.com"},
		{"first of several", "https://a.test and https://b.test", "https://a.test"},
		{"no url", "nothing to see here", ""},
		{"scheme-less ignored", "visit example.com today", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstURL(tt.text))
		})
	}
}

func TestExtractMeta(t *testing.T) {
	t.Run("og tags preferred over title", func(t *testing.T) {
		html := `<html><head>
			<title>Fallback</title>
			<meta property="og:title" content="OG Title"/>
			<meta property="og:image" content="https://cdn.test/img.png"/>
		</head></html>`
		title, image, err := extractMeta(html)
		require.NoError(t, err)
		assert.Equal(t, "OG Title", title)
		assert.Equal(t, "https://cdn.test/img.png", image)
	})

	t.Run("title fallback", func(t *testing.T) {
		title, image, err := extractMeta(`<html><head><title> Page Title </title></head></html>`)
		require.NoError(t, err)
		assert.Equal(t, "Page Title", title)
		assert.Empty(t, image)
	})

	t.Run("no metadata", func(t *testing.T) {
		_, _, err := extractMeta(`<html><body>nothing</body></html>`)
		assert.Error(t, err)
	})
}

func TestCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Example Page</title></head></html>`))
	}))
	defer srv.Close()

	saver := &memSaver{}
	svc := NewService(saver, 2*time.Second, 0, nil)

	msg := &models.Message{ID: 7, Content: "look at " + srv.URL}
	svc.Capture(msg)

	saved := saver.all()
	require.Len(t, saved, 1)
	assert.Equal(t, int64(7), saved[0].MessageID)
	assert.Equal(t, srv.URL, saved[0].URL)
	assert.Equal(t, "Example Page", saved[0].Title)
}

func TestCaptureSkipsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-"))
	}))
	defer srv.Close()

	saver := &memSaver{}
	svc := NewService(saver, 2*time.Second, 0, nil)
	svc.Capture(&models.Message{ID: 1, Content: srv.URL})
	assert.Empty(t, saver.all())
}

func TestCaptureNoURL(t *testing.T) {
	saver := &memSaver{}
	svc := NewService(saver, time.Second, 0, nil)
	svc.Capture(&models.Message{ID: 1, Content: "no links"})
	assert.Empty(t, saver.all())
}
