// Package dirwatch mirrors a filesystem directory into the parameter tree
// as folder/file extended_type nodes, grounded on
// original_source/source/oscquery/folder.cpp and file.cpp. It is a
// one-time walk at startup, not a live filesystem watch: the node graph
// it produces is read through the ordinary HTTP GET path like any other
// node, it just happens to be backed by a file instead of an in-memory
// value.
package dirwatch

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/WPN214/wpn114network/internal/osc"
	"github.com/WPN214/wpn114network/internal/tree"
)

// Mirror walks root once and registers a folder node at mountPath for
// root, and a file node beneath it for every regular file, recursing
// into subdirectories (WPNFolderNode::parseDirectory's recursive branch).
func Mirror(t *tree.Tree, mountPath string, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	names := make([]osc.Value, 0, len(entries))
	for _, e := range entries {
		names = append(names, osc.String(e.Name()))
	}

	folder := t.Link(mountPath, tree.NodeAttrs{
		Type:         osc.TypeList,
		Access:       tree.AccessRead,
		Value:        osc.List(names...),
		ExtendedType: "folder",
	})
	_ = folder

	for _, e := range entries {
		childPath := mountPath + "/" + e.Name()
		childFS := filepath.Join(root, e.Name())

		if e.IsDir() {
			if err := Mirror(t, childPath, childFS); err != nil {
				return err
			}
			continue
		}

		t.Link(childPath, tree.NodeAttrs{
			Type:         osc.TypeFile,
			Access:       tree.AccessRead,
			Value:        osc.File(childFS),
			ExtendedType: "file",
		})
	}
	return nil
}

// suffixTypes covers the extensions WPNFileNode::setFilePath special-cases
// (.qml, .png) plus the common web content types a mirrored directory is
// likely to serve.
var suffixTypes = map[string]string{
	".qml":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".json": "application/json",
	".txt":  "text/plain; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
}

// ContentType resolves a file-backed node's HTTP content type from its
// path suffix, falling back to http.DetectContentType's sniff of data.
func ContentType(path string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := suffixTypes[ext]; ok {
		return ct
	}
	return http.DetectContentType(data)
}

// ReadFile loads a file-backed node's contents for an HTTP reply.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
