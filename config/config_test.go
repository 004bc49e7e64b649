package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Transport.Blocking)
	assert.Equal(t, 1400, cfg.Transport.MaxMessageSize)
	assert.Equal(t, uint16(30490), cfg.Sd.UnicastPort)
	assert.Equal(t, "239.255.255.251", cfg.Sd.MulticastAddress)
	assert.Equal(t, 1400, cfg.Tp.MaxSegmentSize)
	assert.True(t, cfg.E2e.EnableCrc)
	assert.Equal(t, uint8(1), cfg.E2e.CrcType)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yaml")
	content := `
transport:
  blocking: false
  max_message_size: 1200
sd:
  unicast_address: 10.1.2.3
  unicast_port: 40000
  cyclic_offer_ms: 2000
tp:
  max_segment_size: 512
e2e:
  data_id: 99
  crc_type: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Transport.Blocking)
	assert.Equal(t, 1200, cfg.Transport.MaxMessageSize)
	assert.Equal(t, "10.1.2.3", cfg.Sd.UnicastAddress)
	assert.Equal(t, uint16(40000), cfg.Sd.UnicastPort)
	assert.Equal(t, uint32(2000), cfg.Sd.CyclicOfferMs)
	assert.Equal(t, 512, cfg.Tp.MaxSegmentSize)
	assert.Equal(t, uint16(99), cfg.E2e.DataID)
	assert.Equal(t, uint8(2), cfg.E2e.CrcType)

	// Untouched keys keep defaults.
	assert.Equal(t, "239.255.255.251", cfg.Sd.MulticastAddress)
	assert.Equal(t, 65536, cfg.Transport.ReceiveBufferSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
