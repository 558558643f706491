package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"credchain-risk/internal/models"
)

// ArtifactFile is the file name inside an artifact directory.
const ArtifactFile = "model.json"

// Normalization is a min-max scaling with fixed domain bounds. Values
// outside [Min,Max] map outside [0,1] and are not clipped.
type Normalization struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultNormalization is the [0,100] domain shared by training and serving.
func DefaultNormalization() Normalization {
	return Normalization{Min: 0, Max: 100}
}

func (n Normalization) Valid() bool { return n.Max > n.Min }

func (n Normalization) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	span := n.Max - n.Min
	for i, v := range x {
		out[i] = (v - n.Min) / span
	}
	return out
}

func (n Normalization) ApplyAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = n.Apply(row)
	}
	return out
}

// Artifact is a trained network plus the metadata needed to serve it.
type Artifact struct {
	Name          string                    `json:"name"`
	Version       string                    `json:"version"`
	Type          models.ModelType          `json:"type"`
	CreatedAt     time.Time                 `json:"createdAt"`
	Normalization Normalization             `json:"normalization"`
	Metrics       *models.EvaluationMetrics `json:"metrics,omitempty"`
	History       []EpochStats              `json:"history,omitempty"`
	Network       *Network                  `json:"network"`
}

func (a *Artifact) InputSize() int {
	if a.Network == nil {
		return 0
	}
	return a.Network.InputSize
}

func (a *Artifact) Validate() error {
	if a.Type != models.ModelTypeCredit && a.Type != models.ModelTypeFraud {
		return fmt.Errorf("artifact has unknown type %q", a.Type)
	}
	if !a.Normalization.Valid() {
		return fmt.Errorf("artifact normalization [%v,%v] is empty", a.Normalization.Min, a.Normalization.Max)
	}
	if err := a.Network.Validate(); err != nil {
		return fmt.Errorf("artifact network: %w", err)
	}
	return nil
}

// ArtifactDir is <root>/<type>-<unix millis>.
func ArtifactDir(root string, t models.ModelType, at time.Time) string {
	return filepath.Join(root, fmt.Sprintf("%s-%d", t, at.UnixMilli()))
}

// SaveArtifact writes the artifact into dir, creating it. The file is
// written under a temporary name and renamed into place.
func SaveArtifact(dir string, a *Artifact) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	path := filepath.Join(dir, ArtifactFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to install artifact: %w", err)
	}
	return path, nil
}

// LoadArtifact reads an artifact from a model.json path or its directory.
func LoadArtifact(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, ArtifactFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return &a, nil
}

// ErrNoArtifact is returned when a root holds no artifact of a type.
var ErrNoArtifact = errors.New("no artifact found")

// LatestArtifact returns the newest <type>-<millis> directory under root.
func LatestArtifact(root string, t models.ModelType) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to list artifacts: %w", err)
	}

	type candidate struct {
		dir string
		ts  int64
	}
	var found []candidate
	prefix := string(t) + "-"
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), prefix), 10, 64)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), ArtifactFile)); err != nil {
			continue
		}
		found = append(found, candidate{dir: filepath.Join(root, e.Name()), ts: ts})
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%w: %s artifacts in %s", ErrNoArtifact, t, root)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ts > found[j].ts })
	return found[0].dir, nil
}

// ResolveArtifact accepts a model.json file, an artifact directory, or a
// root holding timestamped artifact directories.
func ResolveArtifact(path string, t models.ModelType) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	if _, err := os.Stat(filepath.Join(path, ArtifactFile)); err == nil {
		return path, nil
	}
	return LatestArtifact(path, t)
}
