package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// SetDebugOverride rewrites engine.debug_override in the config file at path,
// keeping every other key (and, for YAML, comments and order). An empty rule
// removes the key. A missing file is created. A watching daemon picks the
// change up through its normal reload path.
func SetDebugOverride(path, rule string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}
	rule = strings.TrimSpace(rule)

	var out []byte
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		out, err = setYAMLOverride(data, rule)
	} else {
		out, err = setJSONOverride(data, rule)
	}
	if err != nil {
		return err
	}
	// Reject output that no longer decodes.
	if _, err := Decode(path, out); err != nil {
		return err
	}
	return writeFileAtomic(path, out)
}

func setYAMLOverride(data []byte, rule string) ([]byte, error) {
	var doc yaml.Node
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("yaml unmarshal: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("config root must be a mapping")
	}
	root := doc.Content[0]

	engine := mappingValue(root, "engine")
	if engine == nil {
		if rule == "" {
			return data, nil
		}
		engine = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content, scalar("engine"), engine)
	}
	if engine.Kind != yaml.MappingNode {
		return nil, errors.New("config: engine must be a mapping")
	}

	if rule == "" {
		for i := 0; i+1 < len(engine.Content); i += 2 {
			if engine.Content[i].Value == "debug_override" {
				engine.Content = append(engine.Content[:i], engine.Content[i+2:]...)
				break
			}
		}
	} else if v := mappingValue(engine, "debug_override"); v != nil {
		v.Kind, v.Tag, v.Value, v.Style = yaml.ScalarNode, "!!str", rule, 0
	} else {
		engine.Content = append(engine.Content, scalar("debug_override"), scalar(rule))
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("yaml marshal: %w", err)
	}
	return out, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func setJSONOverride(data []byte, rule string) ([]byte, error) {
	root := map[string]any{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
	}
	engine, _ := root["engine"].(map[string]any)
	if engine == nil {
		if _, exists := root["engine"]; exists {
			return nil, errors.New("config: engine must be an object")
		}
		engine = map[string]any{}
	}
	if rule == "" {
		delete(engine, "debug_override")
	} else {
		engine["debug_override"] = rule
	}
	if len(engine) > 0 {
		root["engine"] = engine
	} else {
		delete(root, "engine")
	}
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func writeFileAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
