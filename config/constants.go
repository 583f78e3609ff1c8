package config

const (
	DevChainName       = "dev"
	DevGenesisHeader   = "chaindb dev genesis"
	DevFinalityPeriod  = 8
	DevBlockIntervalMs = 100

	DefaultCacheSize     = 1024
	DefaultProgressEvery = 1000
	DefaultRedisAddress  = "127.0.0.1:6379"
)
