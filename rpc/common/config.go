// Package common holds the configuration shared by the HTTP storage server
// and its client driver.
package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Mount specifications
// --------------------------------------------------------------------------

// MountKind names a driver constructor selectable from configuration.
type MountKind string

const (
	MountKindMemory MountKind = "memory"
	MountKindFS     MountKind = "fs"
	MountKindBolt   MountKind = "bolt"
	MountKindHTTP   MountKind = "http"
)

// MountSpec describes one extra mount of the served storage.
type MountSpec struct {
	// Base is the mount point.
	Base string
	// Kind selects the driver.
	Kind MountKind
	// Arg is the driver argument: a directory for fs, a database file for
	// bolt, a base URL for http. Unused for memory.
	Arg string
}

// ParseMountSpecs parses a comma-separated list of mount specifications in
// the form BASE=KIND or BASE=KIND(ARG), e.g.
// "cache=memory,blobs=fs(/var/blobs),remote=http(http://other:8080)".
func ParseMountSpecs(s string) ([]MountSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var specs []MountSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		base, kind, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid mount %q (expected BASE=KIND or BASE=KIND(ARG))", part)
		}
		spec := MountSpec{Base: strings.TrimSpace(base)}
		kind = strings.TrimSpace(kind)
		if open := strings.IndexByte(kind, '('); open >= 0 {
			if !strings.HasSuffix(kind, ")") {
				return nil, fmt.Errorf("invalid mount argument in %q (missing closing parenthesis)", part)
			}
			spec.Arg = kind[open+1 : len(kind)-1]
			kind = kind[:open]
		}
		switch MountKind(kind) {
		case MountKindMemory:
			spec.Kind = MountKindMemory
		case MountKindFS, MountKindBolt, MountKindHTTP:
			spec.Kind = MountKind(kind)
			if spec.Arg == "" {
				return nil, fmt.Errorf("mount kind %q requires an argument in %q", kind, part)
			}
		default:
			return nil, fmt.Errorf("invalid mount kind %q (expected one of: memory, fs, bolt, http)", kind)
		}
		if spec.Base == "" {
			return nil, fmt.Errorf("mount %q has an empty base", part)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// --------------------------------------------------------------------------
// HTTP server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the storage server.
type ServerConfig struct {
	// Endpoint is the address the HTTP API listens on.
	Endpoint string

	// Dir is the base directory of the root filesystem driver.
	Dir string

	// ReadOnly opens the root driver without write support.
	ReadOnly bool

	// Mounts are additional mounts layered over the root driver.
	Mounts []MountSpec

	// NoMetrics disables the /metrics endpoint and request counters.
	NoMetrics bool

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("HTTP Server")
	addField("Endpoint", c.Endpoint)
	addField("Metrics", strconv.FormatBool(!c.NoMetrics))

	addSection("Storage")
	addField("Directory", c.Dir)
	addField("Read Only", strconv.FormatBool(c.ReadOnly))

	if len(c.Mounts) > 0 {
		addSection("Mounts")
		for _, m := range c.Mounts {
			value := string(m.Kind)
			if m.Arg != "" {
				value = fmt.Sprintf("%s(%s)", m.Kind, m.Arg)
			}
			addField(m.Base, value)
		}
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// HTTP client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of the HTTP client driver.
type ClientConfig struct {
	// BaseURL is the server address, e.g. "http://localhost:8080".
	BaseURL string
	// Headers are added to every request (e.g. authorization).
	Headers map[string]string
	// TimeoutSecond bounds each request; zero means no timeout.
	TimeoutSecond int
	// RetryCount retries transport-level failures; zero disables retries.
	RetryCount int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Base URL", c.BaseURL)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
