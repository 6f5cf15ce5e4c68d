package workload

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var precisions = map[string]bool{
	"fp32": true,
	"fp16": true,
	"int8": true,
	"int4": true,
}

// Refiner is the optional second-pass model configuration.
type Refiner struct {
	Model     string  `yaml:"model"`
	Guidance  float64 `yaml:"guidance"`
	Steps     int     `yaml:"steps"`
	Precision string  `yaml:"precision"`
}

// Params describes one generation run. The orchestrator treats the workload
// as an opaque command; Params only knows how to build that command.
type Params struct {
	Model          string   `yaml:"model"`
	Guidance       float64  `yaml:"guidance"`
	Steps          int      `yaml:"steps"`
	Precision      string   `yaml:"precision"`
	Prompt         string   `yaml:"prompt"`
	PromptsFile    string   `yaml:"prompts_file"`
	NegativePrompt string   `yaml:"negative_prompt"`
	Refiner        *Refiner `yaml:"refiner"`
	HFToken        string   `yaml:"hf_token"`
}

// Load reads run parameters from a YAML file.
func Load(filePath string) (*Params, error) {
	data, err := os.ReadFile(filePath)

	if err != nil {
		return nil, errors.Wrapf(err, "read params file %s", filePath)
	}

	var params Params

	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, errors.Wrapf(err, "parse params file %s", filePath)
	}

	return &params, nil
}

func (p *Params) Validate() error {
	if p.Model == "" {
		return errors.New("model is required")
	}

	if p.Steps <= 0 {
		return errors.Errorf("steps must be positive, got %d", p.Steps)
	}

	if p.Guidance <= 0 {
		return errors.Errorf("guidance must be positive, got %v", p.Guidance)
	}

	if !precisions[p.Precision] {
		return errors.Errorf("precision must be one of fp32, fp16, int8, int4, got %q", p.Precision)
	}

	if p.Prompt == "" && p.PromptsFile == "" {
		return errors.New("either prompt or prompts_file is required")
	}

	if p.Refiner != nil {
		if p.Refiner.Model == "" || p.Refiner.Steps <= 0 || p.Refiner.Guidance <= 0 || !precisions[p.Refiner.Precision] {
			return errors.New("refiner requires model, positive steps and guidance, and a valid precision")
		}
	}

	return nil
}

// Command builds the generation entrypoint invocation, run from remoteDir and
// writing its result files under outputDir.
func (p *Params) Command(remoteDir, outputDir string) string {
	parts := []string{
		fmt.Sprintf("cd %s &&", remoteDir),
		"python3 -m imggen",
		"--model " + p.Model,
		fmt.Sprintf("--guidance %v", p.Guidance),
		fmt.Sprintf("--steps %d", p.Steps),
		"--precision " + p.Precision,
		"--output_dir " + outputDir,
	}

	if p.Prompt != "" {
		parts = append(parts, "--prompt "+shellQuote(p.Prompt))
	}

	if p.PromptsFile != "" {
		parts = append(parts, "--prompts_file "+path.Join(remoteDir, path.Base(p.PromptsFile)))
	}

	if p.NegativePrompt != "" {
		parts = append(parts, "--negative_prompt "+shellQuote(p.NegativePrompt))
	}

	if p.Refiner != nil {
		parts = append(parts,
			"--refiner_model "+p.Refiner.Model,
			fmt.Sprintf("--refiner_guidance %v", p.Refiner.Guidance),
			fmt.Sprintf("--refiner_steps %d", p.Refiner.Steps),
			"--refiner_precision "+p.Refiner.Precision,
		)
	}

	if p.HFToken != "" {
		parts = append(parts, "--hf_token "+p.HFToken)
	}

	return strings.Join(parts, " ")
}

// shellQuote single-quotes prompt text so it reaches the entrypoint verbatim,
// with no remote expansion.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// BundlePaths lists the local files that must travel with the run.
func (p *Params) BundlePaths() []string {
	if p.PromptsFile != "" {
		return []string{p.PromptsFile}
	}

	return nil
}
