package e2e

// Config selects a profile and the protection mechanisms applied per
// protect/validate call.
type Config struct {
	// ProfileID selects the profile by numeric id (0 = reference profile).
	ProfileID uint32 `yaml:"profile_id"`
	// ProfileName is the fallback lookup when the id is not registered.
	ProfileName string `yaml:"profile_name"`
	// DataID tags counter/freshness bookkeeping and is carried in the header.
	DataID uint16 `yaml:"data_id"`
	// Offset in bytes from the Return Code where the header begins. The
	// profiles do not read it: the E2E header always directly follows
	// the 16-byte fixed header.
	Offset uint32 `yaml:"offset"`
	// EnableCrc computes and verifies the CRC.
	EnableCrc bool `yaml:"enable_crc"`
	// EnableCounter maintains the per-data-id counter and checks sequence.
	EnableCounter bool `yaml:"enable_counter"`
	// EnableFreshness stamps and checks the freshness timestamp.
	EnableFreshness bool `yaml:"enable_freshness"`
	// MaxCounterValue is the rollover point.
	MaxCounterValue uint32 `yaml:"max_counter_value"`
	// FreshnessTimeoutMs is the staleness threshold.
	FreshnessTimeoutMs uint32 `yaml:"freshness_timeout_ms"`
	// CrcType: 0 = CRC-8 SAE-J1850, 1 = CRC-16 CCITT, 2 = CRC-32.
	CrcType uint8 `yaml:"crc_type"`
}

// NewConfig returns the default configuration for a data id: all
// mechanisms on, CRC-16, 8-byte offset, 1 s freshness timeout.
func NewConfig(dataID uint16) Config {
	return Config{
		ProfileName:        "basic",
		DataID:             dataID,
		Offset:             8,
		EnableCrc:          true,
		EnableCounter:      true,
		EnableFreshness:    true,
		MaxCounterValue:    0xFFFFFFFF,
		FreshnessTimeoutMs: 1000,
		CrcType:            CrcTypeCcitt,
	}
}
