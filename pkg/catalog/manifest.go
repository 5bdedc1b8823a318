package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-catalog/pkg/sortedindex"
	"github.com/dd0wney/cluso-catalog/pkg/storeerr"
)

const (
	manifestName = "MANIFEST"
	manifestTemp = "MANIFEST.tmp"

	indexPattern  = "index-%06d.idx"
	valuesPattern = "values-%06d.dat"
)

// Manifest names the index and value files that make up the live catalog.
// Replacing it is the single atomic step of every merge.
type Manifest struct {
	ID         string    `yaml:"id"`
	Generation uint64    `yaml:"generation"`
	Index      string    `yaml:"index"`
	Values     string    `yaml:"values"`
	Stride     int       `yaml:"stride"`
	KeyOrder   string    `yaml:"key_order"`
	Compress   bool      `yaml:"compress"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

func indexFileName(gen uint64) string {
	return fmt.Sprintf(indexPattern, gen)
}

func valuesFileName(gen uint64) string {
	return fmt.Sprintf(valuesPattern, gen)
}

func errLayout(field string, want, have any) error {
	return storeerr.New("open").Kind(storeerr.ErrLayoutMismatch).
		Cause(fmt.Errorf("%s %v requested, catalog has %v", field, want, have)).Err()
}

// readManifest loads dir/MANIFEST. A missing manifest returns (nil, nil).
func readManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeerr.IO("read manifest", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, storeerr.New("read manifest").Path(path).Kind(storeerr.ErrCorruptIndex).Cause(err).Err()
	}
	if m.Index == "" || m.Values == "" || m.Stride <= 0 {
		return nil, storeerr.New("read manifest").Path(path).Kind(storeerr.ErrCorruptIndex).
			Cause(errors.New("manifest is missing file names or stride")).Err()
	}
	if _, err := sortedindex.ParseKeyOrder(m.KeyOrder); err != nil {
		return nil, storeerr.New("read manifest").Path(path).Kind(storeerr.ErrCorruptIndex).Cause(err).Err()
	}
	return &m, nil
}

// writeManifest replaces dir/MANIFEST by writing a temp file and renaming it
// over the old one.
func writeManifest(dir string, m Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := filepath.Join(dir, manifestTemp)
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return storeerr.IO("write manifest", tmp, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return storeerr.IO("write manifest", tmp, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return storeerr.IO("sync manifest", tmp, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return storeerr.IO("close manifest", tmp, err)
	}

	path := filepath.Join(dir, manifestName)
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return storeerr.IO("rename manifest", path, err)
	}

	// The new manifest is already live; callers must not roll back past here
	_ = syncDir(dir)
	return nil
}

// syncDir makes a rename inside dir durable
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return storeerr.IO("open dir", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return storeerr.IO("sync dir", dir, err)
	}
	return nil
}

// staleFiles lists index and value files in dir not named by m, plus any
// leftover temp manifest.
func staleFiles(dir string, m Manifest) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, storeerr.IO("list", dir, err)
	}

	var stale []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == m.Index || name == m.Values {
			continue
		}
		if name == manifestTemp || isGenerationFile(name) {
			stale = append(stale, filepath.Join(dir, name))
		}
	}
	return stale, nil
}

func isGenerationFile(name string) bool {
	var gen uint64
	switch {
	case strings.HasPrefix(name, "index-"):
		_, err := fmt.Sscanf(name, indexPattern, &gen)
		return err == nil
	case strings.HasPrefix(name, "values-"):
		_, err := fmt.Sscanf(name, valuesPattern, &gen)
		return err == nil
	}
	return false
}
