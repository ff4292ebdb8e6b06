package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/poserefine/logging"
)

// AttributeMap is a loosely typed configuration, such as one embedded in a larger document.
type AttributeMap map[string]interface{}

// Has reports whether the key is present.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
// Fields absent from the document keep their defaults.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "models", cfg.Models.Directory)
	return cfg, nil
}

// FromAttributes decodes a config from an attribute map using the json field names. Unknown keys
// are an error.
func FromAttributes(attributes AttributeMap) (*Config, error) {
	cfg := Default()
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return nil, err
	}
	if len(md.Unused) > 0 {
		return nil, errors.Errorf("unknown attributes %v", md.Unused)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
