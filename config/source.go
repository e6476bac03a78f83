package config

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/jsccast/yaml"
)

// SpecSource points at specifications kept outside the main
// configuration file.  Resolution examines URL and Source in that
// order.  The URL can be a 'file://' (with support for relative
// paths) or HTTP.
type SpecSource struct {
	// URL locates a YAML document holding a list of
	// specifications.
	URL string `yaml:"url,omitempty"`

	// Source is inline YAML text.
	Source string `yaml:"source,omitempty"`
}

// Resolve fetches and parses the external specifications.
func (src *SpecSource) Resolve() ([]SpecConf, error) {
	var body []byte
	var err error

	if src.URL != "" {
		if strings.HasPrefix(src.URL, "file://") {
			body, err = ioutil.ReadFile(src.URL[7:])
		} else {
			var resp *http.Response
			resp, err = http.Get(src.URL)
			if err == nil {
				body, err = ioutil.ReadAll(resp.Body)
				resp.Body.Close()
			}
		}
		if err != nil {
			return nil, fmt.Errorf("specifications_source %s: %w", src.URL, err)
		}
	}

	if src.Source != "" {
		body = []byte(src.Source)
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("specifications_source is empty")
	}

	var specs []SpecConf
	if err := yaml.Unmarshal(body, &specs); err != nil {
		return nil, fmt.Errorf("specifications_source: %w", err)
	}
	return specs, nil
}
