package core

var (
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ MetricsRecorder = NopMetricsRecorder{}
	_ RawConfigLoader = staticRawConfigLoader{}
	_ LockHandle      = (*memoryLockHandle)(nil)
)
