package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.SetDataDir("/tmp/rewind_conf")

	assert.Equal(t, filepath.Join("/tmp/rewind_conf", DefaultBadgerFile), conf.DatabaseDir)
	assert.Equal(t, filepath.Join("/tmp/rewind_conf", DefaultKeyfile), conf.Keyfile())
	assert.Equal(t, filepath.Join("/tmp/rewind_conf", DefaultPlayersFile), conf.PlayersFile())

	// an explicit database directory is left alone
	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/other")
	assert.Equal(t, "/var/db", conf.DatabaseDir)
}

func TestFrameDuration(t *testing.T) {
	conf := NewDefaultConfig()

	conf.FrameRate = 50
	assert.Equal(t, 20*time.Millisecond, conf.FrameDuration())

	conf.FrameRate = 0
	assert.Equal(t, time.Second/DefaultFrameRate, conf.FrameDuration())
}

func TestLoggerFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "rewind_log")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogFile = filepath.Join(dir, "rewind.log")

	conf.Logger().WithField("frame", 12).Info("Hello")
	conf.Logger().Debug("Filtered")

	data, err := ioutil.ReadFile(conf.LogFile)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(data), `"frame":12`))
	assert.False(t, strings.Contains(string(data), "Filtered"))
}

func TestICEServers(t *testing.T) {
	conf := NewDefaultConfig()
	assert.Equal(t, DefaultICEServers(), conf.ICEServers())

	conf.ICEAddress = "stun:stun.example.org:3478"
	servers := conf.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, servers[0].URLs)
	assert.Equal(t, "", servers[0].Username)

	conf.ICEAddress = "turn:turn.example.org:3478"
	conf.ICEUsername = "user"
	conf.ICEPassword = "pass"
	servers = conf.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, "user", servers[0].Username)
	assert.Equal(t, "pass", servers[0].Credential)
	assert.Equal(t, webrtc.ICECredentialTypePassword, servers[0].CredentialType)
}
