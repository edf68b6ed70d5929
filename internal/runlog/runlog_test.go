package runlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath_RangeSuffix(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "imagedownloader__download.log"), New("logs", "").Path(Download))
	assert.Equal(t, filepath.Join("logs", "imagedownloader__err_other_10-20.log"), New("logs", "10-20").Path(OtherError))
}

func TestLog_AppendsLines(t *testing.T) {
	sink := New(t.TempDir(), "")
	defer sink.Close()

	require.NoError(t, sink.Log(DownloadFailed, "ID %d src %s : %s", 1, "https://h/a.jpg", "http 404"))
	require.NoError(t, sink.Log(DownloadFailed, "ID %d src %s : %s\n", 2, "https://h/b.jpg", "timeout"))

	data, err := os.ReadFile(sink.Path(DownloadFailed))
	require.NoError(t, err)
	assert.Equal(t, "ID 1 src https://h/a.jpg : http 404\nID 2 src https://h/b.jpg : timeout\n", string(data))
	assert.Equal(t, 2, sink.Count(DownloadFailed))
}

func TestFlush_RemovesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	previous := New(dir, "")
	require.NoError(t, previous.Log(Download, "old line"))
	require.NoError(t, previous.Close())

	sink := New(dir, "")
	defer sink.Close()
	require.NoError(t, sink.Flush(ImportChannels...))

	_, err := os.Stat(sink.Path(Download))
	assert.True(t, os.IsNotExist(err))
}

func TestSummary(t *testing.T) {
	sink := New(t.TempDir(), "")
	defer sink.Close()
	assert.Empty(t, sink.Summary(false))

	require.NoError(t, sink.Log(MissingDefaultHost, "ID 3 src /a.jpg"))
	notices := sink.Summary(false)

	require.Len(t, notices, 1)
	assert.Equal(t, MissingDefaultHost, notices[0].Channel)
	assert.Contains(t, notices[0].Message, "-default-image-host-and-schema")
}
