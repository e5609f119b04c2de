package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"paperflow/internal/apperr"

	"github.com/stretchr/testify/require"
)

func TestLocalUploadOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir(), "http://api.local/")
	require.NoError(t, err)

	loc, err := s.Upload(ctx, "My Paper.PDF", strings.NewReader("%PDF-1.4"), "papers")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc, "papers/"))
	require.True(t, strings.HasSuffix(loc, ".pdf"))

	rc, err := s.Open(ctx, loc)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(b))

	u := s.URL(loc)
	require.Equal(t, "http://api.local/files/"+loc, u)
	back, ok := s.Locator(u)
	require.True(t, ok)
	require.Equal(t, loc, back)
}

func TestLocalFolderCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocal(root, "http://x")
	require.NoError(t, err)
	loc, err := s.Upload(context.Background(), "a.txt", strings.NewReader("x"), "../../etc")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(s.Path(loc), root))
}

func TestLocalOpenMissing(t *testing.T) {
	s, err := NewLocal(t.TempDir(), "http://x")
	require.NoError(t, err)
	_, err = s.Open(context.Background(), "papers/none.pdf")
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestLocatorRejectsForeignURL(t *testing.T) {
	s, err := NewLocal(t.TempDir(), "http://x")
	require.NoError(t, err)
	_, ok := s.Locator("https://cdn.example.com/doc.txt")
	require.False(t, ok)
}
