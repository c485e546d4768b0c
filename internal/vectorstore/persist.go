package vectorstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"ragindex/internal/domain"
	"ragindex/internal/vectorstore/flat"
)

// Artifact names. The manifest is the commit point: it names the generation
// of the three data files that belong together, e.g. vectors.3.npy.
const (
	MetaFile     = "meta.json"
	VectorsFile  = "vectors.npy"
	IndexFile    = "index.bin"
	ManifestFile = "manifest.json"
)

var dataFiles = []string{MetaFile, VectorsFile, IndexFile}

type manifest struct {
	Generation uint64            `json:"generation"`
	Count      int               `json:"count"`
	Dimension  int               `json:"dimension"`
	WrittenAt  time.Time         `json:"written_at"`
	Files      map[string]string `json:"files"`
	SHA256     map[string]string `json:"sha256"`
}

// generationName turns "vectors.npy" into "vectors.<gen>.npy".
func generationName(name string, gen uint64) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(name, ext), gen, ext)
}

// writeArtifacts stages a new generation of data files and commits it by
// renaming a manifest that names them. Until that rename, readers still see
// the previous generation.
func writeArtifacts(dir string, records []domain.Record, idx *flat.Index) error {
	man, err := stageGeneration(dir, records, idx)
	if err != nil {
		return err
	}
	if err := commitManifest(dir, man); err != nil {
		return err
	}
	removeStale(dir, man)
	return nil
}

func stageGeneration(dir string, records []domain.Record, idx *flat.Index) (*manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if records == nil {
		records = []domain.Record{}
	}
	meta, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	index, err := idx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	data := map[string][]byte{
		VectorsFile: encodeNPY(idx.Vectors(), idx.Dimension()),
		MetaFile:    meta,
		IndexFile:   index,
	}

	gen := uint64(1)
	if prev, err := readManifest(dir); err == nil {
		gen = prev.Generation + 1
	}
	man := &manifest{
		Generation: gen,
		Count:      len(records),
		Dimension:  idx.Dimension(),
		WrittenAt:  time.Now().UTC(),
		Files:      make(map[string]string, len(dataFiles)),
		SHA256:     make(map[string]string, len(dataFiles)),
	}
	for _, name := range dataFiles {
		file := generationName(name, gen)
		if err := installFile(dir, file, data[name]); err != nil {
			return nil, err
		}
		man.Files[name] = file
		man.SHA256[name] = digest(data[name])
	}
	syncDir(dir)
	return man, nil
}

func commitManifest(dir string, man *manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := installFile(dir, ManifestFile, data); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// removeStale deletes data files of other generations. Failures are ignored;
// the next commit retries them.
func removeStale(dir string, man *manifest) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		for _, name := range dataFiles {
			ext := filepath.Ext(name)
			prefix := strings.TrimSuffix(name, ext) + "."
			n := e.Name()
			if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ext) && n != man.Files[name] {
				_ = os.Remove(filepath.Join(dir, n))
			}
		}
	}
}

// installFile writes data to a synced temp file and renames it to name.
func installFile(dir, name string, data []byte) error {
	tmp, err := writeTemp(dir, name, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install %s: %w", name, err)
	}
	return nil
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return f.Name(), nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// errIncomplete marks a store with no committed manifest or with files the
// manifest names but that are gone.
var errIncomplete = errors.New("incomplete artifacts")

type loaded struct {
	records []domain.Record
	index   *flat.Index
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var man manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &man, nil
}

func readArtifacts(dir string) (*loaded, []string, error) {
	man, err := readManifest(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, []string{ManifestFile}, errIncomplete
	}
	if err != nil {
		return nil, nil, err
	}

	var missing []string
	raw := make(map[string][]byte, len(dataFiles))
	for _, name := range dataFiles {
		file := man.Files[name]
		if file == "" {
			missing = append(missing, name)
			continue
		}
		if filepath.Base(file) != file {
			return nil, nil, fmt.Errorf("manifest names %q outside the store", file)
		}
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				missing = append(missing, name)
				continue
			}
			return nil, nil, fmt.Errorf("read %s: %w", file, err)
		}
		if digest(data) != man.SHA256[name] {
			return nil, nil, fmt.Errorf("%s does not match manifest digest", file)
		}
		raw[name] = data
	}
	if len(missing) > 0 {
		return nil, missing, errIncomplete
	}

	var records []domain.Record
	if err := json.Unmarshal(raw[MetaFile], &records); err != nil {
		return nil, nil, fmt.Errorf("decode metadata: %w", err)
	}
	vectors, dim, err := decodeNPY(raw[VectorsFile])
	if err != nil {
		return nil, nil, fmt.Errorf("decode vectors: %w", err)
	}
	idx := flat.New(0)
	if err := idx.UnmarshalBinary(raw[IndexFile]); err != nil {
		return nil, nil, fmt.Errorf("decode index: %w", err)
	}
	if len(records) != man.Count || len(records) != len(vectors) || len(vectors) != idx.Count() {
		return nil, nil, fmt.Errorf("artifact counts disagree: manifest=%d metadata=%d vectors=%d index=%d",
			man.Count, len(records), len(vectors), idx.Count())
	}
	if len(vectors) > 0 && idx.Dimension() != dim {
		return nil, nil, fmt.Errorf("artifact dimensions disagree: vectors=%d index=%d", dim, idx.Dimension())
	}
	for i, v := range idx.Vectors() {
		if idx.IDs()[i] != records[i].ChunkID {
			return nil, nil, fmt.Errorf("index row %d id %q differs from metadata %q", i, idx.IDs()[i], records[i].ChunkID)
		}
		if !slices.Equal(v, vectors[i]) {
			return nil, nil, fmt.Errorf("index row %d differs from vectors file", i)
		}
	}
	return &loaded{records: records, index: idx}, nil, nil
}
