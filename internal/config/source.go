package config

import "git.home.luguber.info/inful/dashrender/internal/foundation/normalization"

// SourceType selects the entity state source implementation.
type SourceType string

const (
	// SourceNATS reads entity states from a NATS JetStream key-value bucket.
	SourceNATS SourceType = "nats"
	// SourceStatic serves states from a YAML file; useful for kiosks and testing.
	SourceStatic SourceType = "static"
)

var sourceTypeNormalizer = normalization.NewNormalizer(map[string]SourceType{
	"nats":   SourceNATS,
	"static": SourceStatic,
	"file":   SourceStatic,
}, SourceNATS)
