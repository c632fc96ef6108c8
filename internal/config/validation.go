package config

import (
	ferrors "git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

// normalize maps loosely written enum values onto their canonical form.
func (c *Config) normalize() error {
	var err error
	if c.Retry.Backoff, err = retryBackoffNormalizer.Parse(string(c.Retry.Backoff)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid retry.backoff").Build()
	}
	if c.Source.Type, err = sourceTypeNormalizer.Parse(string(c.Source.Type)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid source.type").Build()
	}
	if c.Log.Level, err = logLevelNormalizer.Parse(string(c.Log.Level)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid log.level").Build()
	}
	if c.Log.Format, err = logFormatNormalizer.Parse(string(c.Log.Format)); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid log.format").Build()
	}
	return nil
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.OutputDir == c.LayoutsDir {
		return ferrors.ConfigError("output_dir must differ from layouts_dir").
			WithContext("output_dir", c.OutputDir).Build()
	}
	if c.Retry.MaxRetries < 0 {
		return ferrors.ConfigError("retry.max_retries cannot be negative").Build()
	}
	if j := c.Retry.JitterFraction(); j < 0 || j >= 1 {
		return ferrors.ConfigError("retry.jitter must be in [0, 1)").
			WithContext("jitter", j).Build()
	}
	switch c.Source.Type {
	case SourceNATS:
		if c.Source.NATSURL == "" {
			return ferrors.ConfigError("source.nats_url is required for the nats source").Build()
		}
	case SourceStatic:
		if c.Source.StaticFile == "" {
			return ferrors.ConfigError("source.static_file is required for the static source").Build()
		}
	}
	return nil
}
