package whep

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSelector struct {
	calls [][3]string
	err   error
}

func (s *recordingSelector) SelectLayer(_ context.Context, layerURL, mediaID, encodingID string) error {
	s.calls = append(s.calls, [3]string{layerURL, mediaID, encodingID})
	return s.err
}

func TestLayerCatalogStartsDisabled(t *testing.T) {
	catalog := NewLayerCatalog(&recordingSelector{}, zaptest.NewLogger(t))

	assert.Equal(t, []string{LayerDisabled}, catalog.Layers())
	assert.Equal(t, LayerDisabled, catalog.Current())
}

func TestLayerCatalogOnLayerEvent(t *testing.T) {
	catalog := NewLayerCatalog(&recordingSelector{}, zaptest.NewLogger(t))

	require.NoError(t, catalog.OnLayerEvent([]byte(`{"1":{"layers":[{"encodingId":"high"},{"encodingId":"med"},{"encodingId":"low"}]},"2":{"layers":[{"encodingId":"audio"}]}}`)))
	assert.Equal(t, []string{LayerDisabled, "high", "med", "low"}, catalog.Layers())

	// Only audio announced, video layers stay
	require.NoError(t, catalog.OnLayerEvent([]byte(`{"2":{"layers":[]}}`)))
	assert.Equal(t, []string{LayerDisabled, "high", "med", "low"}, catalog.Layers())

	require.NoError(t, catalog.OnLayerEvent([]byte(`{"1":{"layers":[{"encodingId":"low"}]}}`)))
	assert.Equal(t, []string{LayerDisabled, "low"}, catalog.Layers())

	assert.Error(t, catalog.OnLayerEvent([]byte(`not json`)))
	assert.Equal(t, []string{LayerDisabled, "low"}, catalog.Layers())
}

func TestLayerCatalogSelectLayer(t *testing.T) {
	selector := &recordingSelector{}
	catalog := NewLayerCatalog(selector, zaptest.NewLogger(t))
	catalog.SetEndpoint("http://localhost/api/layer/abc")

	require.NoError(t, catalog.SelectLayer(context.Background(), "low"))
	assert.Equal(t, "low", catalog.Current())
	assert.Equal(t, [][3]string{{"http://localhost/api/layer/abc", "1", "low"}}, selector.calls)
}

func TestLayerCatalogSelectLayerKeepsSelectionOnFailure(t *testing.T) {
	selector := &recordingSelector{err: errors.New("boom")}
	catalog := NewLayerCatalog(selector, zaptest.NewLogger(t))
	catalog.SetEndpoint("http://localhost/api/layer/abc")

	assert.Error(t, catalog.SelectLayer(context.Background(), "high"))
	assert.Equal(t, "high", catalog.Current())
}

func TestLayerCatalogWithoutEndpoint(t *testing.T) {
	selector := &recordingSelector{}
	catalog := NewLayerCatalog(selector, zaptest.NewLogger(t))

	assert.ErrorIs(t, catalog.SelectLayer(context.Background(), "high"), ErrNoLayerEndpoint)
	assert.Equal(t, "high", catalog.Current())
	assert.Empty(t, selector.calls)
}

func TestLayerCatalogResetKeepsSelection(t *testing.T) {
	catalog := NewLayerCatalog(&recordingSelector{}, zaptest.NewLogger(t))
	catalog.SetEndpoint("http://localhost/api/layer/abc")
	require.NoError(t, catalog.OnLayerEvent([]byte(`{"1":{"layers":[{"encodingId":"high"}]}}`)))
	require.NoError(t, catalog.SelectLayer(context.Background(), "high"))

	catalog.Reset()
	assert.Equal(t, []string{LayerDisabled}, catalog.Layers())
	assert.Equal(t, "high", catalog.Current())
	assert.Empty(t, catalog.Endpoint())
}

func TestLayerCatalogClear(t *testing.T) {
	catalog := NewLayerCatalog(&recordingSelector{}, zaptest.NewLogger(t))
	catalog.SetEndpoint("http://localhost/api/layer/abc")
	require.NoError(t, catalog.OnLayerEvent([]byte(`{"1":{"layers":[{"encodingId":"high"}]}}`)))
	require.NoError(t, catalog.SelectLayer(context.Background(), "high"))

	catalog.Clear()
	assert.Equal(t, []string{LayerDisabled}, catalog.Layers())
	assert.Equal(t, LayerDisabled, catalog.Current())
	assert.Empty(t, catalog.Endpoint())
}
