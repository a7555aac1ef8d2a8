package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/kalambet/codebuddy/internal/provider"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, ok := lo.Find(specs, func(s keySpec) bool { return s.key == key })
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use 'codebuddy config set-key' or environment variable %s", key, s.env)
	}
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	case kBool:
		bv, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
		return b.SetString(key, strconv.FormatBool(bv))
	case kString:
		if key == "provider.id" {
			d, err := provider.Lookup(value)
			if err != nil {
				return err
			}
			value = string(d.ID())
		}
		return b.SetString(key, value)
	}
	return fmt.Errorf("unsupported type for %s", key)
}

// SetAPIKey stores a provider API key in the OS keyring.
func SetAPIKey(providerID, key string) error {
	return setAPIKeyWith(keyringStore{}, providerID, key)
}

func setAPIKeyWith(ss secretStore, providerID, key string) error {
	d, err := provider.Lookup(providerID)
	if err != nil {
		return err
	}
	if p := d.APIKeyPattern(); p != nil && !p.MatchString(key) {
		return fmt.Errorf("invalid API key format for %s (expected %s)", d.Name(), d.APIKeyPlaceholder())
	}
	return ss.Set(keyringService, apiKeyAccount(string(d.ID())), key)
}

// SetServerToken stores the HTTP API bearer token in the OS keyring.
func SetServerToken(token string) error {
	return keyringStore{}.Set(keyringService, serverTokenAcct, token)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	return lo.FilterMap(specs, func(s keySpec, _ int) (string, bool) {
		return s.key, !s.secret
	})
}

const exportVersion = 1

type exportFile struct {
	Version  int               `json:"version"`
	Settings map[string]string `json:"settings"`
}

// Export serializes all non-secret settings as JSON.
func Export(cfg Config) ([]byte, error) {
	out := exportFile{Version: exportVersion, Settings: map[string]string{}}
	for _, ki := range ShowAll(cfg) {
		out.Settings[ki.Key] = ki.Value
	}
	return json.MarshalIndent(out, "", "  ")
}

// Import applies settings produced by Export to the config file and returns
// the keys it wrote. Unknown and secret keys are skipped.
func Import(data []byte) ([]string, error) {
	return importWith(newFileBackend(configFilePath()), data)
}

func importWith(b ConfigBackend, data []byte) ([]string, error) {
	var in exportFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	if in.Version != exportVersion {
		return nil, fmt.Errorf("unsupported settings version %d", in.Version)
	}

	valid := lo.SliceToMap(ValidKeys(), func(k string) (string, bool) { return k, true })
	keys := lo.Keys(in.Settings)
	sort.Strings(keys)

	var applied []string
	for _, k := range keys {
		if !valid[k] {
			continue
		}
		if err := setKeyWith(b, k, in.Settings[k]); err != nil {
			return applied, fmt.Errorf("importing %s: %w", k, err)
		}
		applied = append(applied, k)
	}
	return applied, nil
}
