package logging

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIsCachedPerSubsystem(t *testing.T) {
	b := newBackend(new(bytes.Buffer))

	first := b.Logger("MESH")
	second := b.Logger("MESH")
	assert.Same(t, first, second)
	assert.Equal(t, []string{"MESH"}, b.Subsystems())
}

func TestSetLevels(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    map[string]btclog.Level
		wantErr bool
	}{
		{
			name: "Single level",
			spec: "debug",
			want: map[string]btclog.Level{"MESH": btclog.LevelDebug, "BRDG": btclog.LevelDebug},
		},
		{
			name: "Per subsystem",
			spec: "MESH=trace,BRDG=warn",
			want: map[string]btclog.Level{"MESH": btclog.LevelTrace, "BRDG": btclog.LevelWarn},
		},
		{
			name: "Default plus override",
			spec: "error,MESH=debug",
			want: map[string]btclog.Level{"MESH": btclog.LevelDebug, "BRDG": btclog.LevelError},
		},
		{
			name:    "Unknown level",
			spec:    "loud",
			wantErr: true,
		},
		{
			name:    "Unknown subsystem",
			spec:    "NOPE=debug",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(new(bytes.Buffer))
			b.Logger("MESH")
			b.Logger("BRDG")

			err := b.SetLevels(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for tag, lvl := range tt.want {
				assert.Equal(t, lvl, b.Logger(tag).Level(), tag)
			}
		})
	}
}

func TestOutputIsTaggedAndFiltered(t *testing.T) {
	var out bytes.Buffer
	b := newBackend(&out)
	log := b.Logger("BRDG")

	log.Debugf("hidden %d", 1)
	log.Infof("link %s activated", "abcd")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "[INF] BRDG: link abcd activated")
}

func TestRotatorMirrorsOutput(t *testing.T) {
	var out bytes.Buffer
	b := newBackend(&out)

	logFile := filepath.Join(t.TempDir(), "logs", "meshtun.log")
	require.NoError(t, b.InitRotator(logFile))

	b.Logger("MTUN").Info("started")
	assert.Contains(t, out.String(), "started")
	assert.NoError(t, b.Close())
	assert.FileExists(t, logFile)
}
