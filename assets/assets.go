// Package assets embeds the SQL migration files applied at startup.
package assets

import (
	"embed"
	"io/fs"
)

//go:embed migrations
var content embed.FS

// ReadDir lists the entries of an embedded directory.
func ReadDir(name string) ([]fs.DirEntry, error) {
	return content.ReadDir(name)
}

// ReadFile returns the contents of an embedded file.
func ReadFile(name string) ([]byte, error) {
	return content.ReadFile(name)
}
