package service

// ModelRoute selects a provider and model on the AI gateway.
type ModelRoute struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Prompts are the system instructions sent with each kind of request.
// Their content is opaque to the orchestration.
type Prompts struct {
	Action       string `yaml:"action"`
	Search       string `yaml:"search"`
	Plex         string `yaml:"plex"`
	Research     string `yaml:"research"`
	Summary      string `yaml:"summary"`
	TaskSummary  string `yaml:"task_summary"`
	FinalSummary string `yaml:"final_summary"`
	TodoMaker    string `yaml:"todo_maker"`
}

// AgentConfig configures how agents talk to the AI gateway.
type AgentConfig struct {
	DefaultModel  ModelRoute `yaml:"default_model"`
	ResearchModel ModelRoute `yaml:"research_model"`
	Prompts       Prompts    `yaml:"prompts"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		DefaultModel:  ModelRoute{Provider: "groq", Model: "llama-3.1-8b-instant"},
		ResearchModel: ModelRoute{Provider: "perplexity-ai", Model: "sonar"},
		Prompts: Prompts{
			Action:       "You are an action agent. Carry out the requested operation and report exactly what was done and what came back.",
			Search:       "You are a search agent. Find current, factual information and cite where it came from.",
			Plex:         "You are an advanced research agent. Search broadly, compare sources and report the strongest findings.",
			Research:     "You are a research agent. Produce a comprehensive, well-structured analysis with key facts, trends and open questions.",
			Summary:      "You are a summary agent. Combine the results of completed tasks into a concise report of insights for the user.",
			TaskSummary:  "Summarize the result of one monitoring task in 3 to 5 sentences. Lead with the most important finding.",
			FinalSummary: "Write the final report for a monitoring request. Synthesize every task result, highlight what matters to the user and list recommended next steps.",
			TodoMaker: `You are the todo maker for a monitoring system. Break the user's request into at least 3 todos.
Reply with JSON only, shaped as {"tasks":[{"title":"","description":"","agentType":"","taskType":"","condition":null,"goTo":[],"search":[],"actions":[]}]}.
agentType is one of ACTION_SCOUT, BROWSER_AUTOMATION, SEARCH_AGENT, PLEX_AGENT, RESEARCH_AGENT, SUMMARY_AGENT.
taskType is one of SINGLE_RUN, CONTINUOUSLY_RUNNING, RUN_ON_CONDITION, THINKING_RESEARCH, FAILED_TASK_RECOVERY.
RUN_ON_CONDITION todos need a condition {"type":"price_threshold|data_change|time_based|failure_count","parameters":{}}.
actions items are {"type":"act|observe|extract","description":""}.`,
		},
	}
}

// withDefaults fills empty fields from DefaultAgentConfig.
func (c AgentConfig) withDefaults() AgentConfig {
	d := DefaultAgentConfig()
	if c.DefaultModel.Provider == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.ResearchModel.Provider == "" {
		c.ResearchModel = d.ResearchModel
	}
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&c.Prompts.Action, d.Prompts.Action)
	fill(&c.Prompts.Search, d.Prompts.Search)
	fill(&c.Prompts.Plex, d.Prompts.Plex)
	fill(&c.Prompts.Research, d.Prompts.Research)
	fill(&c.Prompts.Summary, d.Prompts.Summary)
	fill(&c.Prompts.TaskSummary, d.Prompts.TaskSummary)
	fill(&c.Prompts.FinalSummary, d.Prompts.FinalSummary)
	fill(&c.Prompts.TodoMaker, d.Prompts.TodoMaker)
	return c
}
