// config.go - Modell-Konfiguration und HuggingFace config.json
//
// Dieses Modul enthaelt die Architektur-Zahlen, die der Worker fuer
// den Cache braucht (Layer, KV-Heads, Head-Groesse, Datentyp), und
// LoadConfig, das sie aus einer HuggingFace config.json liest.
package model

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ollama/kvworker/ml"
)

var (
	ErrConfigNotFound = errors.New("config.json not found")
	ErrInvalidConfig  = errors.New("invalid model config")
)

// Config holds the architecture numbers of a model.
type Config struct {
	Name         string `json:"name"`
	Architecture string `json:"architecture"`

	NumLayers  int `json:"num_layers"`
	NumKVHeads int `json:"num_kv_heads"`
	HeadSize   int `json:"head_size"`
	VocabSize  int `json:"vocab_size"`

	// DType is the precision the weights are computed in
	DType ml.DType `json:"dtype"`
}

func (c Config) Validate() error {
	var errs []error
	if c.NumLayers <= 0 {
		errs = append(errs, fmt.Errorf("num layers must be positive, got %d", c.NumLayers))
	}
	if c.NumKVHeads <= 0 {
		errs = append(errs, fmt.Errorf("num kv heads must be positive, got %d", c.NumKVHeads))
	}
	if c.HeadSize <= 0 {
		errs = append(errs, fmt.Errorf("head size must be positive, got %d", c.HeadSize))
	}
	if c.DType.Size() == 0 {
		errs = append(errs, fmt.Errorf("unsupported model dtype %v", c.DType))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", c.Name),
		slog.String("architecture", c.Architecture),
		slog.Int("layers", c.NumLayers),
		slog.Int("kv_heads", c.NumKVHeads),
		slog.Int("head_size", c.HeadSize),
		slog.Any("dtype", c.DType),
	)
}

// hfConfig covers the config.json keys of llama style models and the older
// gpt2 names.
type hfConfig struct {
	NameOrPath    string   `json:"_name_or_path"`
	Architectures []string `json:"architectures"`
	ModelType     string   `json:"model_type"`

	NumHiddenLayers   int    `json:"num_hidden_layers"`
	NumAttentionHeads int    `json:"num_attention_heads"`
	NumKeyValueHeads  int    `json:"num_key_value_heads"`
	HiddenSize        int    `json:"hidden_size"`
	HeadDim           int    `json:"head_dim"`
	VocabSize         int    `json:"vocab_size"`
	TorchDType        string `json:"torch_dtype"`

	NLayer int `json:"n_layer"`
	NHead  int `json:"n_head"`
	NEmbd  int `json:"n_embd"`
}

// LoadConfig reads a HuggingFace config.json. path may name the file or the
// model directory containing it.
func LoadConfig(path string) (Config, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "config.json")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	} else if err != nil {
		return Config{}, err
	}

	c, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	if c.Name == "" {
		c.Name = filepath.Base(filepath.Dir(path))
	}

	slog.Debug("model config loaded", "path", path, "model", c)
	return c, nil
}

// ParseConfig converts the raw bytes of a config.json.
func ParseConfig(data []byte) (Config, error) {
	var hf hfConfig
	if err := json.Unmarshal(data, &hf); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	layers := cmp.Or(hf.NumHiddenLayers, hf.NLayer)
	heads := cmp.Or(hf.NumAttentionHeads, hf.NHead)
	hidden := cmp.Or(hf.HiddenSize, hf.NEmbd)

	c := Config{
		Name:       hf.NameOrPath,
		NumLayers:  layers,
		NumKVHeads: cmp.Or(hf.NumKeyValueHeads, heads),
		HeadSize:   hf.HeadDim,
		VocabSize:  hf.VocabSize,
		DType:      ml.DTypeF16,
	}

	if len(hf.Architectures) > 0 {
		c.Architecture = hf.Architectures[0]
	} else {
		c.Architecture = hf.ModelType
	}

	if c.HeadSize == 0 && heads > 0 {
		c.HeadSize = hidden / heads
	}

	// float32 checkpoints are served in half precision
	if hf.TorchDType != "" {
		dtype, err := ml.ParseDType(strings.TrimPrefix(hf.TorchDType, "torch."))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if dtype != ml.DTypeF32 {
			c.DType = dtype
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
