package objectstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestKeyTrimsTrailingSlash(t *testing.T) {
	require.Equal(t, "jobs/kk_1/manifest.json", manifestKey("jobs/kk_1/"))
	require.Equal(t, "jobs/kk_1/manifest.json", manifestKey("jobs/kk_1"))
}

func TestClipKeyJoinsPrefixAndFile(t *testing.T) {
	require.Equal(t, "jobs/kk_1/clip_1.mp4", clipKey("jobs/kk_1/", "clip_1.mp4"))
}

func TestManifestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := `{"clips":[{"file":"a.mp4","title":"A","duration":12.5,"extra":"ignored"}],"unrelated":true}`
	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Len(t, m.Clips, 1)
	require.Equal(t, "a.mp4", m.Clips[0].File)
	require.Equal(t, 12.5, m.Clips[0].Duration)
}
