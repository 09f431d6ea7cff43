package memory

// Template holds the prompt affixes of an instruction-tuned chat format.
type Template struct {
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	SystemPrefix string `yaml:"system_prefix"`
	SystemSuffix string `yaml:"system_suffix"`
	UserPrefix   string `yaml:"user_prefix"`
	UserSuffix   string `yaml:"user_suffix"`
	AgentPrefix  string `yaml:"agent_prefix"`
	AgentSuffix  string `yaml:"agent_suffix"`
	UserRole     string `yaml:"user_role"`
	AgentRole    string `yaml:"agent_role"`
}

// DefaultTemplate returns the Llama-2 style template used by the default
// child/teacher scenario.
func DefaultTemplate() Template {
	return Template{
		Start:        "[INST] ",
		End:          " [/INST]",
		SystemPrefix: "<<SYS>>",
		SystemSuffix: "<</SYS>>",
		UserSuffix:   "\n\n",
		AgentSuffix:  "\n\n",
		UserRole:     "Child :",
		AgentRole:    "Teacher :",
	}
}

// System renders the system prompt entry.
func (t Template) System(prompt string) string {
	return t.Start + t.SystemPrefix + prompt + t.SystemSuffix
}

// User renders a user turn. The user role label is part of the turn.
func (t Template) User(text string) string {
	return t.UserPrefix + t.UserRole + text + t.UserSuffix
}

// Agent renders an agent turn. body already starts with whatever role label
// the model generated.
func (t Template) Agent(body string) string {
	return t.AgentPrefix + body + t.AgentSuffix
}
