package aiflow

// ToolChoice controls how strongly the model is steered toward invoking
// a tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// GenerateConfig configures a single stream invocation. Parallel tool
// calls are always disabled in requests regardless of configuration; the
// contract is unconditional, not a field here.
type GenerateConfig struct {
	Model      Model
	ToolChoice ToolChoice
}

// DefaultGenerateConfig returns gpt-4.1 with auto tool choice.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Model:      DefaultModel,
		ToolChoice: ToolChoiceAuto,
	}
}

func sanitizeGenerateConfig(cfg GenerateConfig) GenerateConfig {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ToolChoice == "" {
		cfg.ToolChoice = ToolChoiceAuto
	}
	return cfg
}
