package ipc

const (
	maxFileBodyBytes int64 = 16 << 20
	maxWSReadBytes   int64 = 1 << 20

	defaultChangesLimit = 50
)
