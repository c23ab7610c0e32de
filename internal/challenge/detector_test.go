package challenge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetector_DefaultMarkers(t *testing.T) {
	t.Parallel()

	d := New(nil)
	body := []byte(`<html><script>window.awsWafIntegration.checkForceRefresh().then(...)</script></html>`)
	require.True(t, d.Detect([]byte(`<script>AwsWafIntegration.checkForceRefresh()</script>`)))
	require.True(t, d.Detect(body), "matching is case-insensitive")
}

func TestDetector_RegularPage(t *testing.T) {
	t.Parallel()

	d := New(nil)
	require.False(t, d.Detect([]byte(`<html><body><a href="/archive?id=1">March 21, 2017 - Spring</a></body></html>`)))
	require.False(t, d.Detect(nil))
}

func TestDetector_CustomMarkers(t *testing.T) {
	t.Parallel()

	d := New([]string{"", "please verify you are human"})
	require.True(t, d.Detect([]byte("<p>Please verify you are human</p>")))
	require.False(t, d.Detect([]byte("AwsWafIntegration.checkForceRefresh")))
}

func TestDetector_NilSafe(t *testing.T) {
	t.Parallel()

	var d *Detector
	require.False(t, d.Detect([]byte("anything")))
}
