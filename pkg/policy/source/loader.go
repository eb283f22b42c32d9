package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"fleetguard/warden/pkg/fleet"
	"fleetguard/warden/pkg/policy"
	"fleetguard/warden/pkg/policy/action"
	"fleetguard/warden/pkg/policy/condition"
)

// Document is one policy template as written in a YAML file.
type Document struct {
	Code        string          `yaml:"code"`
	TenantID    string          `yaml:"tenant_id,omitempty"`
	Name        string          `yaml:"name,omitempty"`
	Category    string          `yaml:"category,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Scope       fleet.Scope     `yaml:"scope"`
	Conditions  *condition.Node `yaml:"conditions"`
	Actions     []action.Action `yaml:"actions"`

	// Mode may be left empty to derive it from Confidence.
	Mode       policy.EnforcementMode `yaml:"mode,omitempty"`
	Confidence float64                `yaml:"confidence,omitempty"`
	Schedule   policy.Schedule        `yaml:"schedule"`

	EffectiveDate *time.Time `yaml:"effective_date,omitempty"`
	ReviewDate    *time.Time `yaml:"review_date,omitempty"`

	// Activate promotes a newly created version straight to active.
	Activate bool `yaml:"activate,omitempty"`

	// Path is the file the document was read from.
	Path string `yaml:"-"`
}

// Template converts the document to a draft template.
func (d *Document) Template() *policy.Template {
	return &policy.Template{
		TenantID:         d.TenantID,
		Code:             d.Code,
		Name:             d.Name,
		Category:         d.Category,
		Description:      d.Description,
		Scope:            d.Scope,
		Conditions:       d.Conditions,
		Actions:          d.Actions,
		Mode:             d.Mode,
		Confidence:       d.Confidence,
		Schedule:         d.Schedule,
		EffectiveDate:    d.EffectiveDate,
		ReviewDate:       d.ReviewDate,
		ExecutionEnabled: true,
		Source:           d.Path,
	}
}

// LoaderConfig configures policy file discovery.
type LoaderConfig struct {
	// Extensions lists the file extensions treated as policy files.
	Extensions []string

	// MaxFileSize rejects larger files.
	MaxFileSize int64

	// SkipHidden ignores files and directories starting with ".".
	SkipHidden bool
}

// DefaultLoaderConfig returns the default loader configuration.
func DefaultLoaderConfig() *LoaderConfig {
	return &LoaderConfig{
		Extensions:  []string{".yaml", ".yml"},
		MaxFileSize: 1 << 20,
		SkipHidden:  true,
	}
}

// Loader reads policy documents from disk.
type Loader struct {
	config *LoaderConfig
}

// NewLoader creates a loader. A nil config uses DefaultLoaderConfig.
func NewLoader(cfg *LoaderConfig) *Loader {
	if cfg == nil {
		cfg = DefaultLoaderConfig()
	}
	return &Loader{config: cfg}
}

// LoadFile reads every document in a policy file.
func (l *Loader) LoadFile(path string) ([]*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{FilePath: path, Message: "file not found", Cause: err}
		}
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: path, Message: "not a regular file"}
	}
	if l.config.MaxFileSize > 0 && info.Size() > l.config.MaxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), l.config.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: path, Message: "file contains invalid UTF-8 encoding"}
	}

	return Parse(path, data)
}

// Parse decodes the documents in data. path is only used for error
// messages and provenance.
func Parse(path string, data []byte) ([]*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var docs []*Document
	for i := 1; ; i++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{FilePath: path, Document: i, Message: "YAML decoding failed", Cause: err}
		}
		if emptyDocument(&node) {
			continue
		}

		doc, err := decodeDocument(&node)
		if err != nil {
			return nil, &ParseError{FilePath: path, Document: i, Message: "YAML decoding failed", Cause: err}
		}
		if doc.Code == "" {
			return nil, &ParseError{FilePath: path, Document: i, Message: "missing code", Cause: errors.New("code is required")}
		}
		doc.Path = path
		docs = append(docs, doc)
	}
	return docs, nil
}

// emptyDocument reports whether node is a document with nothing in it, as
// produced by a trailing "---" or a comment-only file.
func emptyDocument(node *yaml.Node) bool {
	if node.Kind == 0 {
		return true
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return true
		}
		node = node.Content[0]
	}
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Tag == "!!null"
	case yaml.MappingNode:
		return len(node.Content) == 0
	}
	return false
}

// decodeDocument decodes node with unknown fields rejected. yaml.Node.Decode
// has no strict mode, so the node is re-encoded for a strict decoder.
func decodeDocument(node *yaml.Node) (*Document, error) {
	raw, err := yaml.Marshal(node)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDirectory reads every policy file under dir, in path order. Files
// that fail to load are reported in an *ErrorList alongside the documents
// that did load.
func (l *Loader) LoadDirectory(dir string) ([]*Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to access directory", Cause: err}
	}
	if !info.IsDir() {
		return l.LoadFile(dir)
	}

	files, err := l.collect(dir)
	if err != nil {
		return nil, err
	}

	var docs []*Document
	errList := &ErrorList{}
	for _, path := range files {
		fileDocs, err := l.LoadFile(path)
		if err != nil {
			errList.Add(err)
			continue
		}
		docs = append(docs, fileDocs...)
	}

	if errList.HasErrors() {
		return docs, errList
	}
	return docs, nil
}

func (l *Loader) collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if l.config.SkipHidden && strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if l.hasExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: dir, Message: "failed to walk directory", Cause: err}
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) hasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range l.config.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}
