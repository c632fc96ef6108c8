package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/dashrender/internal/foundation/errors"
)

// DocumentFormat is the serialization of a layout document.
type DocumentFormat string

const (
	DocYAML DocumentFormat = "yaml"
	DocJSON DocumentFormat = "json"
	DocTOML DocumentFormat = "toml"
)

// FormatForPath infers the document format from a file extension.
func FormatForPath(path string) (DocumentFormat, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DocYAML, true
	case ".json":
		return DocJSON, true
	case ".toml":
		return DocTOML, true
	default:
		return "", false
	}
}

// Parse decodes, normalizes and validates one layout document. Unknown fields
// are rejected so that typos surface as InvalidLayout instead of silently
// rendering a different dashboard. The returned layout always has a
// fingerprint; a failed parse returns no layout at all.
func Parse(data []byte, format DocumentFormat, opts ...ValidateOption) (*Layout, Fingerprint, error) {
	return parse(data, format, "", opts...)
}

// parse is Parse with an ID used when the document does not declare one.
func parse(data []byte, format DocumentFormat, fallbackID string, opts ...ValidateOption) (*Layout, Fingerprint, error) {
	var l Layout
	if err := decode(data, format, &l); err != nil {
		return nil, "", errors.InvalidLayout("malformed layout document").
			WithCause(err).
			WithContext("format", string(format)).
			Build()
	}
	if l.ID == "" {
		l.ID = fallbackID
	}
	return finish(&l, opts...)
}

// claimedID reads the dashboard ID a document declares without validating
// it, falling back to fallbackID. It returns "" when no usable ID exists.
func claimedID(data []byte, format DocumentFormat, fallbackID string) string {
	var head struct {
		ID string `yaml:"id" json:"id" toml:"id"`
	}
	switch format {
	case DocYAML:
		_ = yaml.Unmarshal(data, &head)
	case DocJSON:
		_ = json.Unmarshal(data, &head)
	case DocTOML:
		_, _ = toml.Decode(string(data), &head)
	}
	id := strings.TrimSpace(head.ID)
	if id == "" {
		id = fallbackID
	}
	if !idPattern.MatchString(id) {
		return ""
	}
	return id
}

func finish(l *Layout, opts ...ValidateOption) (*Layout, Fingerprint, error) {
	if err := l.normalize(); err != nil {
		return nil, "", err
	}
	if err := Validate(l, opts...); err != nil {
		return nil, "", err
	}
	fp, err := ComputeFingerprint(l)
	if err != nil {
		return nil, "", err
	}
	return l, fp, nil
}

func decode(data []byte, format DocumentFormat, l *Layout) error {
	switch format {
	case DocYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(l)
	case DocJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(l)
	case DocTOML:
		md, err := toml.Decode(string(data), l)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown field %q", undecoded[0].String())
		}
		return nil
	default:
		return fmt.Errorf("unsupported layout format %q", format)
	}
}
