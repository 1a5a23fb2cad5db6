package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const DefaultModel = "small"

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

type Model struct {
	Name     string
	FileName string
	SHA256   string
	// ApproxBytes is the published download size, for display only.
	ApproxBytes uint64
}

func (m Model) URL() string {
	return hfBase + m.FileName
}

// ResolvedModel is where a model lives on disk and whether it still has to
// be fetched.
type ResolvedModel struct {
	Model
	Path          string
	NeedsDownload bool
	IsCustomPath  bool
}

var registry = []Model{
	{Name: "tiny", FileName: "ggml-tiny.bin", SHA256: "be07e048e1e599ad46341c8d2a135645097a538221678b7acdd1b1919c6e1b21", ApproxBytes: 77_691_713},
	{Name: "base", FileName: "ggml-base.bin", SHA256: "60ed5bc3dd14eea856493d334349b405782ddcaf0028d4b5df4088345fba2efe", ApproxBytes: 147_951_465},
	{Name: "small", FileName: "ggml-small.bin", SHA256: "1be3a9b2063867b937e64e2ec7483364a79917e157fa98c5d94b5c1fffea987b", ApproxBytes: 487_601_967},
	{Name: "medium", FileName: "ggml-medium.bin", SHA256: "6c14d5adee5f86394037b4e4e8b59f1673b6cee10e3cf0b11bbdbee79c156208", ApproxBytes: 1_533_763_059},
	{Name: "large-v3", FileName: "ggml-large-v3.bin", SHA256: "64d182b440b98d5203c4f9bd541544d84c605196c4f7b845dfa11fb23594d1e2", ApproxBytes: 3_095_033_483},
}

func Models() []Model {
	return slices.Clone(registry)
}

func ModelNames() []string {
	names := make([]string, 0, len(registry))
	for _, m := range registry {
		names = append(names, m.Name)
	}
	slices.Sort(names)
	return names
}

func LookupModel(name string) (Model, bool) {
	for _, m := range registry {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// ResolveModel maps a model name or a path to a .bin file onto disk.
func ResolveModel(ref, modelDir string) (ResolvedModel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = DefaultModel
	}

	if model, ok := LookupModel(ref); ok {
		if strings.TrimSpace(modelDir) == "" {
			return ResolvedModel{}, errors.New("model directory must not be empty for named model")
		}

		path := filepath.Join(modelDir, model.FileName)
		_, err := os.Stat(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("stat model path: %w", err)
		}
		return ResolvedModel{Model: model, Path: path, NeedsDownload: err != nil}, nil
	}

	if !looksLikePath(ref) {
		return ResolvedModel{}, fmt.Errorf("unknown model %q (known models: %s)", ref, strings.Join(ModelNames(), ", "))
	}

	path := filepath.Clean(ref)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResolvedModel{}, fmt.Errorf("custom model path does not exist: %s", path)
		}
		return ResolvedModel{}, fmt.Errorf("stat custom model path: %w", err)
	}
	return ResolvedModel{Model: Model{Name: filepath.Base(path)}, Path: path, IsCustomPath: true}, nil
}

func looksLikePath(input string) bool {
	return strings.ContainsRune(input, os.PathSeparator) || strings.HasSuffix(strings.ToLower(input), ".bin")
}
