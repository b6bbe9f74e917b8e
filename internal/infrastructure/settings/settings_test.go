package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"camstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParse(t *testing.T) {
	prefs, problems := Parse(map[string]string{
		KeySessionCode:            "482913",
		KeyFrameRatio:             "2",
		KeyImageQuality:           "0.55",
		KeyBitrate:                "1200000",
		KeyResolutionScale:        "0.5",
		KeyCustomServerEnabled:    "true",
		KeyCustomServerURL:        "signal.example.com",
		KeyCustomServerPort:       "9443",
		KeySecureConnection:       "1",
		KeyLocalRecordingDisabled: "false",
	})
	require.Empty(t, problems)

	assert.Equal(t, domain.Preferences{
		SessionCode:         "482913",
		FrameRatio:          2,
		ImageQuality:        0.55,
		BitrateBps:          1_200_000,
		ResolutionScale:     0.5,
		CustomServerEnabled: true,
		CustomServerURL:     "signal.example.com",
		CustomServerPort:    9443,
		SecureConnection:    true,
	}, prefs)
}

func TestParse_InvalidValuesKeepDefaults(t *testing.T) {
	prefs, problems := Parse(map[string]string{
		KeyFrameRatio:       "-1",
		KeyImageQuality:     "high",
		KeyCustomServerPort: "70000",
		KeySecureConnection: "maybe",
	})

	assert.Len(t, problems, 4)
	def := domain.DefaultPreferences()
	assert.Equal(t, def.FrameRatio, prefs.FrameRatio)
	assert.Equal(t, def.ImageQuality, prefs.ImageQuality)
	assert.Zero(t, prefs.CustomServerPort)
	assert.False(t, prefs.SecureConnection)
}

func TestProvider_RefreshAndSnapshot(t *testing.T) {
	store := NewMemoryStore(map[string]string{KeyBitrate: "500000"})
	p := NewProvider(store, zap.NewNop().Sugar())

	assert.Equal(t, domain.DefaultPreferences(), p.Snapshot(), "defaults before the first refresh")

	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, uint(500_000), p.Snapshot().BitrateBps)

	require.NoError(t, store.Set(context.Background(), KeyBitrate, "900000"))
	assert.Equal(t, uint(500_000), p.Snapshot().BitrateBps, "snapshot only changes on refresh")
	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, uint(900_000), p.Snapshot().BitrateBps)

	require.NoError(t, p.StoreSessionCode(context.Background(), "111222"))
	assert.Equal(t, domain.SessionCode("111222"), p.Snapshot().SessionCode)
	values, _ := store.Load(context.Background())
	assert.Equal(t, "111222", values[KeySessionCode])
}

type failingStore struct{}

func (failingStore) Load(context.Context) (map[string]string, error) {
	return nil, errors.New("unavailable")
}
func (failingStore) Set(context.Context, string, string) error { return errors.New("unavailable") }

func TestProvider_RefreshFailureKeepsSnapshot(t *testing.T) {
	p := NewProvider(failingStore{}, zap.NewNop().Sugar())
	assert.Error(t, p.Refresh(context.Background()))
	assert.Equal(t, domain.DefaultPreferences(), p.Snapshot())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store := NewFileStore(path)

	values, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values, "missing file reads as empty")

	require.NoError(t, os.WriteFile(path, []byte("frame_ratio: 3\nimage_quality: 0.4\nsecure_connection: true\ncustom_server_url: host.local\n"), 0o644))
	values, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", values[KeyFrameRatio])
	assert.Equal(t, "0.4", values[KeyImageQuality])
	assert.Equal(t, "true", values[KeySecureConnection])

	require.NoError(t, store.Set(context.Background(), KeySessionCode, "000123"))
	values, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "000123", values[KeySessionCode])
	assert.Equal(t, "3", values[KeyFrameRatio], "other keys survive a write")

	for _, body := range []string{"just text\n", "- a\n- b\n", "nested:\n  key: value\n"} {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err = store.Load(context.Background())
		assert.Error(t, err, body)
	}
}

func TestFileStore_KeepsScalarsAsWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_code: 012345\nframe_ratio: 010\ncustom_server_port:\n"), 0o644))

	values, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "012345", values[KeySessionCode])
	assert.Equal(t, "010", values[KeyFrameRatio])
	assert.NotContains(t, values, KeyCustomServerPort)

	p := NewProvider(NewFileStore(path), zap.NewNop().Sugar())
	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, domain.SessionCode("012345"), p.Snapshot().SessionCode)
}

func TestEndpoints(t *testing.T) {
	const defWS, defHTTP = "ws://localhost:8081/ws", "http://localhost:8081"

	cases := []struct {
		name      string
		prefs     domain.Preferences
		signaling string
		health    string
	}{
		{"defaults", domain.Preferences{}, defWS, defHTTP},
		{"custom disabled", domain.Preferences{CustomServerURL: "x.example"}, defWS, defHTTP},
		{"host and port", domain.Preferences{CustomServerEnabled: true, CustomServerURL: "signal.example", CustomServerPort: 9000},
			"ws://signal.example:9000/ws", "http://signal.example:9000"},
		{"secure with scheme and path", domain.Preferences{CustomServerEnabled: true, CustomServerURL: "https://example.com/cam/", SecureConnection: true},
			"wss://example.com/cam/ws", "https://example.com/cam"},
		{"port in url", domain.Preferences{CustomServerEnabled: true, CustomServerURL: "10.0.0.5:7000"},
			"ws://10.0.0.5:7000/ws", "http://10.0.0.5:7000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ws, health, err := Endpoints(tc.prefs, defWS, defHTTP)
			require.NoError(t, err)
			assert.Equal(t, tc.signaling, ws)
			assert.Equal(t, tc.health, health)
		})
	}

	_, _, err := Endpoints(domain.Preferences{CustomServerEnabled: true, CustomServerURL: "http://"}, defWS, defHTTP)
	assert.Error(t, err)
}
