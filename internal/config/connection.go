package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	ErrConnectionIncomplete  = errors.New("databaseURL and projectId are required")
	ErrInvalidConnectionText = errors.New("connection text is neither structured data nor a recognizable config object")
)

// DefaultProjectID is the namespace used by the original deployment.
const DefaultProjectID = "clinic-waiting-system"

// Connection describes how to reach the realtime store. The field names
// follow the web SDK configuration object so that a snippet copied from a
// hosting console can be pasted as-is.
type Connection struct {
	APIKey            string `json:"apiKey" yaml:"apiKey"`
	AuthDomain        string `json:"authDomain" yaml:"authDomain"`
	DatabaseURL       string `json:"databaseURL" yaml:"databaseURL"`
	ProjectID         string `json:"projectId" yaml:"projectId"`
	StorageBucket     string `json:"storageBucket" yaml:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId" yaml:"messagingSenderId"`
	AppID             string `json:"appId" yaml:"appId"`
}

// Validate reports whether the required fields are present.
func (c *Connection) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" || strings.TrimSpace(c.ProjectID) == "" {
		return ErrConnectionIncomplete
	}
	return nil
}

// Merge overlays the non-empty fields of other onto c.
func (c Connection) Merge(other Connection) Connection {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return Connection{
		APIKey:            pick(c.APIKey, other.APIKey),
		AuthDomain:        pick(c.AuthDomain, other.AuthDomain),
		DatabaseURL:       pick(c.DatabaseURL, other.DatabaseURL),
		ProjectID:         pick(c.ProjectID, other.ProjectID),
		StorageBucket:     pick(c.StorageBucket, other.StorageBucket),
		MessagingSenderID: pick(c.MessagingSenderID, other.MessagingSenderID),
		AppID:             pick(c.AppID, other.AppID),
	}
}

// Redacted returns a copy safe to log or return to clients.
func (c Connection) Redacted() Connection {
	out := c
	if out.APIKey != "" {
		out.APIKey = "****"
	}
	if u := out.DatabaseURL; u != "" {
		out.DatabaseURL = redactURL(u)
	}
	return out
}

var userinfoPattern = regexp.MustCompile(`//([^:/@]+):([^@]+)@`)

func redactURL(u string) string {
	return userinfoPattern.ReplaceAllString(u, "//$1:****@")
}

var connectionEnvKeys = []string{
	"CLINICQ_API_KEY",
	"CLINICQ_AUTH_DOMAIN",
	"CLINICQ_DATABASE_URL",
	"CLINICQ_PROJECT_ID",
	"CLINICQ_STORAGE_BUCKET",
	"CLINICQ_MESSAGING_SENDER_ID",
	"CLINICQ_APP_ID",
}

// connectionFromViper builds an environment-supplied connection. Only a
// database URL makes the environment authoritative.
func connectionFromViper(v *viper.Viper) *Connection {
	url := v.GetString("CLINICQ_DATABASE_URL")
	if url == "" {
		return nil
	}
	conn := &Connection{
		APIKey:            v.GetString("CLINICQ_API_KEY"),
		AuthDomain:        v.GetString("CLINICQ_AUTH_DOMAIN"),
		DatabaseURL:       url,
		ProjectID:         v.GetString("CLINICQ_PROJECT_ID"),
		StorageBucket:     v.GetString("CLINICQ_STORAGE_BUCKET"),
		MessagingSenderID: v.GetString("CLINICQ_MESSAGING_SENDER_ID"),
		AppID:             v.GetString("CLINICQ_APP_ID"),
	}
	if conn.ProjectID == "" {
		conn.ProjectID = DefaultProjectID
	}
	return conn
}

// ConnectionSource names where a resolved connection came from.
type ConnectionSource string

const (
	SourceEnv  ConnectionSource = "env"
	SourceFile ConnectionSource = "file"
	SourceNone ConnectionSource = "none"
)

// ResolveConnection applies the acquisition order: environment first, then
// the persisted local entry. A nil result means the store stays
// unconfigured.
func (c *Config) ResolveConnection() (*Connection, ConnectionSource, error) {
	if c.Connection != nil {
		return c.Connection, SourceEnv, nil
	}
	conn, err := LoadConnectionFile(c.ConnectionFile())
	if err != nil {
		return nil, SourceNone, err
	}
	if conn == nil {
		return nil, SourceNone, nil
	}
	return conn, SourceFile, nil
}

// LoadConnectionFile reads a persisted connection entry. A missing file is
// not an error.
func LoadConnectionFile(path string) (*Connection, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read connection file: %w", err)
	}
	var conn Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("decode connection file %s: %w", path, err)
	}
	return &conn, nil
}

// SaveConnectionFile persists the entry, creating the directory as needed.
func SaveConnectionFile(path string, conn Connection) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(conn, "", "  ")
	if err != nil {
		return fmt.Errorf("encode connection: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ClearConnectionFile removes the persisted entry.
func ClearConnectionFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove connection file: %w", err)
	}
	return nil
}

var objectBlockPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseConnectionText turns pasted text into a Connection. Strict JSON is
// tried first, then a YAML mapping, then field extraction from the first
// {...} block of a loosely formatted snippet such as
// `const cfg = { apiKey: "x", databaseURL: 'y' };`.
func ParseConnectionText(text string) (Connection, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Connection{}, ErrInvalidConnectionText
	}

	var conn Connection
	if err := json.Unmarshal([]byte(text), &conn); err == nil {
		if !hasAnyKeyField(conn) {
			return Connection{}, ErrInvalidConnectionText
		}
		return conn, nil
	}

	var fromYAML Connection
	if err := yaml.Unmarshal([]byte(text), &fromYAML); err == nil && hasAnyKeyField(fromYAML) {
		return fromYAML, nil
	}

	block := objectBlockPattern.FindString(text)
	if block == "" {
		return Connection{}, ErrInvalidConnectionText
	}
	conn = Connection{
		APIKey:            extractValue(block, "apiKey"),
		AuthDomain:        extractValue(block, "authDomain"),
		DatabaseURL:       extractValue(block, "databaseURL"),
		ProjectID:         extractValue(block, "projectId"),
		StorageBucket:     extractValue(block, "storageBucket"),
		MessagingSenderID: extractValue(block, "messagingSenderId"),
		AppID:             extractValue(block, "appId"),
	}
	if !hasAnyKeyField(conn) {
		return Connection{}, ErrInvalidConnectionText
	}
	return conn, nil
}

func hasAnyKeyField(c Connection) bool {
	return c.APIKey != "" || c.DatabaseURL != "" || c.ProjectID != ""
}

func extractValue(block, key string) string {
	pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(key) + `\s*:\s*["']([^"']+)["']`)
	m := pattern.FindStringSubmatch(block)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
