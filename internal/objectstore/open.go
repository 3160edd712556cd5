package objectstore

import (
	"fmt"

	"clipfactory/internal/types"
	"clipfactory/pkg/aliyun"
)

const (
	BackendFile = "file"
	BackendOSS  = "oss"
)

type Config struct {
	Backend string           `toml:"backend"`
	OSS     aliyun.OssConfig `toml:"oss"`
}

// Open returns the configured artifact store. fileRoot is used by the file
// backend only.
func Open(cfg Config, fileRoot string) (types.ObjectStore, error) {
	switch cfg.Backend {
	case "", BackendFile:
		fs, err := NewFileStore(fileRoot)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case BackendOSS:
		oc, err := aliyun.NewOssClient(cfg.OSS)
		if err != nil {
			return nil, err
		}
		return oc, nil
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", cfg.Backend)
	}
}
