// Package config loads and stores YAML or JSON documents through afs, so
// machine configs and reports can live on any afs-supported storage.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"gopkg.in/yaml.v3"
)

func isJSON(URL string) bool {
	return strings.HasSuffix(strings.ToLower(URL), ".json")
}

// Load decodes the document at URL into out. Fields absent from the
// document keep the values out already holds.
func Load(ctx context.Context, fs afs.Service, URL string, out interface{}) error {
	exists, err := fs.Exists(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to check config %s: %w", URL, err)
	}
	if !exists {
		return fmt.Errorf("config %s does not exist", URL)
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to download config %s: %w", URL, err)
	}
	if isJSON(URL) {
		err = json.Unmarshal(data, out)
	} else {
		err = yaml.Unmarshal(data, out)
	}
	if err != nil {
		return fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	return nil
}

// Save encodes v as YAML, or JSON for a .json URL, and uploads it.
func Save(ctx context.Context, fs afs.Service, URL string, v interface{}) error {
	var data []byte
	var err error
	if isJSON(URL) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", URL, err)
	}
	if err = fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", URL, err)
	}
	return nil
}
