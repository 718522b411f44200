package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"persona-eval/internal/domain"
)

// ErrInvalidArtifactPath se devuelve cuando condition o name intentan salir de runs/.
var ErrInvalidArtifactPath = errors.New("invalid artifact path")

// ArtifactRef ubica un artefacto de corrida en disco.
type ArtifactRef struct {
	Condition string `json:"condition"`
	Name      string `json:"name"`
	Path      string `json:"path"`
}

// ArtifactStore persiste RunArtifacts como runs/<condition>/<tag>.json.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

// Root devuelve el directorio base.
func (s *ArtifactStore) Root() string { return s.root }

// PathFor devuelve la ruta del artefacto de una combinacion.
func (s *ArtifactStore) PathFor(condition, tag string) string {
	return filepath.Join(s.root, condition, tag+".json")
}

// ReportPath es la ruta del reporte markdown que acompana a un artefacto.
func ReportPath(artifactPath string) string {
	return strings.TrimSuffix(artifactPath, filepath.Ext(artifactPath)) + ".md"
}

// Save escribe el artefacto una sola vez, de forma atomica.
func (s *ArtifactStore) Save(condition, tag string, artifact domain.RunArtifact) (string, error) {
	path := s.PathFor(condition, tag)
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// SaveReport escribe el markdown junto al artefacto.
func (s *ArtifactStore) SaveReport(artifactPath, markdown string) (string, error) {
	path := ReportPath(artifactPath)
	if err := writeFileAtomic(path, []byte(markdown)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// LoadArtifact lee un artefacto desde cualquier ruta.
func LoadArtifact(path string) (domain.RunArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RunArtifact{}, fmt.Errorf("read artifact: %w", err)
	}
	var artifact domain.RunArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return domain.RunArtifact{}, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if artifact.Metadata.RunID == "" && artifact.Results == nil {
		return domain.RunArtifact{}, fmt.Errorf("parse artifact %s: not a run artifact", path)
	}
	return artifact, nil
}

// Load lee el artefacto condition/name (name sin extension).
func (s *ArtifactStore) Load(condition, name string) (domain.RunArtifact, string, error) {
	path, err := s.resolve(condition, name+".json")
	if err != nil {
		return domain.RunArtifact{}, "", err
	}
	artifact, err := LoadArtifact(path)
	return artifact, path, err
}

// LoadReport lee el markdown de condition/name.
func (s *ArtifactStore) LoadReport(condition, name string) (string, error) {
	path, err := s.resolve(condition, name+".md")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read report: %w", err)
	}
	return string(data), nil
}

// List recorre runs/<condition>/*.json ignorando directorios ocultos y archivos sueltos en la raiz.
func (s *ArtifactStore) List() ([]ArtifactRef, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}
	var refs []ArtifactRef
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		condDir := filepath.Join(s.root, entry.Name())
		files, err := os.ReadDir(condDir)
		if err != nil {
			return nil, fmt.Errorf("read condition dir: %w", err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
				continue
			}
			refs = append(refs, ArtifactRef{
				Condition: entry.Name(),
				Name:      strings.TrimSuffix(name, ".json"),
				Path:      filepath.Join(condDir, name),
			})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// resolve arma una ruta dentro de root rechazando componentes que escapen del directorio.
func (s *ArtifactStore) resolve(condition, file string) (string, error) {
	for _, part := range []string{condition, file} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: component %q", ErrInvalidArtifactPath, part)
		}
	}
	return filepath.Join(s.root, condition, file), nil
}

// writeFileAtomic escribe en un temporal del mismo directorio y renombra.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
