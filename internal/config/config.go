// Package config loads a node's configuration from a gcfg INI-style
// file, in the same shape as SimpleRelay/config.go's GetConfig: a size
// sanity check, then gcfg.ReadStringInto into a typed struct.
package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/gcfg.v1"
)

// MaxConfigSize mirrors SimpleRelay/config.go's MAX_CONFIG_SIZE sanity
// check: "even this is crazy large" for a config file.
const MaxConfigSize int64 = 1024 * 1024 * 2

// Extensions toggles the optional OSCQuery surface area this node
// advertises in its HOST_INFO reply (spec.md §6).
type Extensions struct {
	Access       bool
	Value        bool
	Range        bool
	Description  bool
	Tags         bool
	ExtendedType bool
	Unit         bool
	Critical     bool
	Clipmode     bool
	Listen       bool
	PathChanged  bool
	PathAdded    bool
	PathRemoved  bool
	PathRenamed  bool
	OscStreaming bool
	Html         bool
	Echo         bool
}

// ToMap renders Extensions as the bool map HostInfo JSON expects.
func (e Extensions) ToMap() map[string]bool {
	return map[string]bool{
		"ACCESS":        e.Access,
		"VALUE":         e.Value,
		"RANGE":         e.Range,
		"DESCRIPTION":   e.Description,
		"TAGS":          e.Tags,
		"EXTENDED_TYPE": e.ExtendedType,
		"UNIT":          e.Unit,
		"CRITICAL":      e.Critical,
		"CLIPMODE":      e.Clipmode,
		"LISTEN":        e.Listen,
		"PATH_CHANGED":  e.PathChanged,
		"PATH_ADDED":    e.PathAdded,
		"PATH_REMOVED":  e.PathRemoved,
		"PATH_RENAMED":  e.PathRenamed,
		"OSC_STREAMING": e.OscStreaming,
		"HTML":          e.Html,
		"ECHO":          e.Echo,
	}
}

// Node is the gcfg-parsed [Node] section of a config file.
type Node struct {
	Name     string
	Tcp_Port int
	Udp_Port int
	Zc       string // zc://<service-name> discovery form, when set
	Root_Dir string // optional directory to mirror (spec.md §4.9)
}

// cfgType is the root gcfg document shape.
type cfgType struct {
	Node       Node
	Extensions Extensions
}

// Defaults matches the teacher's convention of sane built-in defaults
// before a config file is applied.
func Defaults() cfgType {
	return cfgType{
		Node: Node{
			Name:     "wpn114",
			Tcp_Port: 5678,
			Udp_Port: 1234,
		},
		Extensions: Extensions{
			Access: true, Value: true, Range: true, Description: true,
			Tags: true, ExtendedType: true, Critical: true, Clipmode: true,
			Listen: true, PathAdded: true, PathRemoved: true, OscStreaming: true,
		},
	}
}

// Load reads path, sanity-checks its size, and parses it into a Node +
// Extensions pair, starting from Defaults().
func Load(path string) (Node, Extensions, error) {
	fin, err := os.Open(path)
	if err != nil {
		return Node{}, Extensions{}, err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return Node{}, Extensions{}, err
	}
	if fi.Size() > MaxConfigSize {
		return Node{}, Extensions{}, errors.New("config: file far too large")
	}

	content := make([]byte, fi.Size())
	n, err := fin.Read(content)
	if err != nil {
		return Node{}, Extensions{}, err
	}
	if int64(n) != fi.Size() {
		return Node{}, Extensions{}, errors.New("config: failed to read file")
	}

	c := Defaults()
	if err := gcfg.ReadStringInto(&c, string(content)); err != nil {
		return Node{}, Extensions{}, err
	}
	if err := verify(c); err != nil {
		return Node{}, Extensions{}, err
	}
	return c.Node, c.Extensions, nil
}

func verify(c cfgType) error {
	if c.Node.Name == "" {
		return errors.New("config: node name must not be empty")
	}
	if c.Node.Tcp_Port <= 0 || c.Node.Tcp_Port > 65535 {
		return errors.New("config: tcp_port out of range")
	}
	if c.Node.Udp_Port <= 0 || c.Node.Udp_Port > 65535 {
		return errors.New("config: udp_port out of range")
	}
	return nil
}

// IsDiscoveryAddr reports whether addr uses the zc://<service-name>
// discovery form, returning the bare service name when it does.
func IsDiscoveryAddr(addr string) (string, bool) {
	const prefix = "zc://"
	if strings.HasPrefix(addr, prefix) {
		return strings.TrimPrefix(addr, prefix), true
	}
	return "", false
}
