package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"search-agent/internal/adapter/tool"
	"search-agent/internal/application/port/output"
	"search-agent/internal/application/service"
	"search-agent/internal/infrastructure/browser/rod"
	"search-agent/internal/infrastructure/cache"
	"search-agent/internal/infrastructure/cleaner"
	"search-agent/internal/infrastructure/fetcher"
	"search-agent/internal/infrastructure/llm/anthropic"
	"search-agent/internal/infrastructure/llm/gemini"
	"search-agent/internal/infrastructure/llm/inline"
	"search-agent/internal/infrastructure/llm/langchain"
	"search-agent/internal/infrastructure/llm/ollama"
	"search-agent/internal/infrastructure/llm/openrouter"
	"search-agent/internal/infrastructure/logger"
	"search-agent/internal/infrastructure/prompts"
	"search-agent/internal/infrastructure/search/duckduckgo"
	"search-agent/internal/usecase/attachment"
	"search-agent/internal/usecase/conversation"
	"search-agent/internal/usecase/websearch"
)

const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
	ProviderLangchain  = "langchain"
)

type Container struct {
	Logger   output.LoggerPort
	LLM      output.LLMPort
	Uploader output.FileUploader
	Tools    output.ToolRegistry
	Search   *websearch.Client
	Cache    *cache.Expiring
	Agent    *conversation.Agent

	closers []func()
}

type Config struct {
	Provider          string
	Model             string
	GeminiAPIKey      string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	AnthropicAPIKey   string
	LangchainAPIKey   string
	LangchainBaseURL  string
	OllamaHost        string

	SystemPrompt     string
	Retries          int
	RetryDelay       time.Duration
	ThinkingBudget   *int
	EnableGrounding  bool
	EnableURLContext bool
	MaxToolRounds    int
	MaxToolResultLen int

	SearchParams       output.SearchParams
	SearchRetries      int
	SearchRetryDelay   time.Duration
	SearchRetryOnEmpty bool

	FetchTimeout   time.Duration
	FetchVerifyTLS bool
	FetchProxy     string
	FetchBrowser   bool
	Cleaning       cleaner.Kind
	CleanMaxSize   int

	CacheDisabled bool
	Cache         cache.Config

	Log logger.Config
	// Observer receives turn progress; nil discards it.
	Observer output.TurnObserver
}

func DefaultConfig() Config {
	return Config{
		Provider:           ProviderGemini,
		Retries:            -1,
		RetryDelay:         -1,
		MaxToolRounds:      conversation.DefaultMaxToolRounds,
		SearchParams:       websearch.DefaultParams(),
		SearchRetries:      websearch.DefaultRetries,
		SearchRetryDelay:   websearch.DefaultRetryDelay,
		SearchRetryOnEmpty: true,
		FetchTimeout:       20 * time.Second,
		FetchVerifyTLS:     true,
		Cleaning:           cleaner.KindNone,
		Cache:              cache.DefaultConfig(),
		Log:                logger.DefaultConfig(),
	}
}

// ConfigFromEnv maps environment variables onto DefaultConfig.
func ConfigFromEnv(env output.ConfigPort) (Config, error) {
	cfg := DefaultConfig()

	cfg.Provider = strings.ToLower(env.GetWithDefault("LLM_PROVIDER", cfg.Provider))
	cfg.Model = env.Get("LLM_MODEL")
	cfg.GeminiAPIKey = env.GetWithDefault("GEMINI_API_KEY", env.Get("GOOGLE_API_KEY"))
	cfg.OpenRouterAPIKey = env.Get("OPENROUTER_API_KEY")
	cfg.OpenRouterBaseURL = env.Get("OPENROUTER_BASE_URL")
	cfg.AnthropicAPIKey = env.Get("ANTHROPIC_API_KEY")
	cfg.LangchainAPIKey = env.Get("LANGCHAIN_API_KEY")
	cfg.LangchainBaseURL = env.Get("LANGCHAIN_BASE_URL")
	cfg.OllamaHost = env.Get("OLLAMA_HOST")

	cfg.SystemPrompt = env.Get("AGENT_SYSTEM_PROMPT")
	cfg.Retries = env.GetInt("AGENT_RETRIES", cfg.Retries)
	cfg.RetryDelay = env.GetDuration("AGENT_RETRY_DELAY", cfg.RetryDelay)
	if b := env.GetInt("THINKING_BUDGET", -1); b >= 0 {
		cfg.ThinkingBudget = &b
	}
	cfg.EnableGrounding = env.GetBool("ENABLE_GROUNDING", false)
	cfg.EnableURLContext = env.GetBool("ENABLE_URL_CONTEXT", false)
	cfg.MaxToolRounds = env.GetInt("AGENT_MAX_TOOL_ROUNDS", cfg.MaxToolRounds)
	cfg.MaxToolResultLen = env.GetInt("AGENT_MAX_TOOL_RESULT_LEN", cfg.MaxToolResultLen)

	cfg.SearchParams.Region = env.GetWithDefault("SEARCH_REGION", cfg.SearchParams.Region)
	cfg.SearchParams.SafeSearch = env.GetWithDefault("SEARCH_SAFESEARCH", cfg.SearchParams.SafeSearch)
	cfg.SearchParams.TimeLimit = env.Get("SEARCH_TIMELIMIT")
	cfg.SearchParams.NumResults = env.GetInt("SEARCH_NUM_RESULTS", cfg.SearchParams.NumResults)
	cfg.SearchParams.Backend = env.GetWithDefault("SEARCH_BACKEND", cfg.SearchParams.Backend)
	cfg.SearchRetries = env.GetInt("SEARCH_RETRIES", cfg.SearchRetries)
	cfg.SearchRetryDelay = env.GetDuration("SEARCH_RETRY_DELAY", cfg.SearchRetryDelay)
	cfg.SearchRetryOnEmpty = env.GetBool("SEARCH_RETRY_ON_EMPTY", cfg.SearchRetryOnEmpty)

	cfg.FetchTimeout = env.GetDuration("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.FetchVerifyTLS = env.GetBool("FETCH_VERIFY_TLS", cfg.FetchVerifyTLS)
	cfg.FetchProxy = env.Get("FETCH_PROXY")
	cfg.FetchBrowser = env.GetBool("FETCH_BROWSER", false)
	kind, err := cleaner.ParseKind(env.GetWithDefault("CLEANING", string(cfg.Cleaning)))
	if err != nil {
		return cfg, err
	}
	cfg.Cleaning = kind
	cfg.CleanMaxSize = env.GetInt("CLEAN_MAX_SIZE", 0)

	cfg.CacheDisabled = env.GetBool("CACHE_DISABLED", false)
	cfg.Cache.MaxSize = env.GetInt("CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.MaxAge = env.GetDuration("CACHE_MAX_AGE", cfg.Cache.MaxAge)
	cfg.Cache.Cadence = env.GetInt("CACHE_CADENCE", cfg.Cache.Cadence)

	cfg.Log.Level = env.GetWithDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = env.Get("LOG_FILE")
	cfg.Log.Dir = env.Get("LOG_DIR")

	return cfg, nil
}

func NewContainer(ctx context.Context, cfg Config) (*Container, error) {
	log, err := logger.NewLoggerAdapter(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	c := &Container{Logger: log}
	c.closers = append(c.closers, func() { _ = log.Close() })

	if err := c.build(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, cfg Config) error {
	llm, uploader, err := newLLM(ctx, cfg, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}
	c.LLM, c.Uploader = llm, uploader

	getter, err := c.newPageGetter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create page getter: %w", err)
	}

	cl, err := cleaner.New(cleaner.Config{Kind: cfg.Cleaning, MaxOutputSize: cfg.CleanMaxSize, Logger: c.Logger})
	if err != nil {
		return err
	}

	fetchCfg := fetcherConfig(cfg)
	fetchCfg.Cleaner = cl
	fetchCfg.Logger = c.Logger
	if !cfg.CacheDisabled {
		c.Cache = cache.New(cfg.Cache)
		fetchCfg.Cache = c.Cache
	}
	f, err := fetcher.New(getter, fetchCfg)
	if err != nil {
		return err
	}

	provider, err := duckduckgo.New(duckduckgo.Config{
		LiteURL: duckduckgo.LiteEndpoint,
		HTMLURL: duckduckgo.HTMLEndpoint,
		Timeout: cfg.FetchTimeout,
		Proxy:   cfg.FetchProxy,
		Logger:  c.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create search provider: %w", err)
	}

	searchCfg := websearch.DefaultConfig()
	searchCfg.Params = cfg.SearchParams
	searchCfg.Retries = cfg.SearchRetries
	searchCfg.RetryDelay = cfg.SearchRetryDelay
	searchCfg.AcceptEmpty = !cfg.SearchRetryOnEmpty
	searchCfg.Logger = c.Logger
	c.Search, err = websearch.New(provider, f, searchCfg)
	if err != nil {
		return err
	}

	tools := service.NewToolRegistry()
	searchTool, err := tool.NewSearchTool(c.Search)
	if err != nil {
		return err
	}
	if err := tools.Register(searchTool); err != nil {
		return fmt.Errorf("failed to register tool: %w", err)
	}
	c.Tools = tools

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt, err = prompts.GenerateSystemPrompt(prompts.DefaultSystemPrompt, tools, time.Now())
		if err != nil {
			return fmt.Errorf("failed to render system prompt: %w", err)
		}
	}

	agentCfg := conversation.DefaultConfig()
	agentCfg.SystemPrompt = systemPrompt
	agentCfg.Retries = cfg.Retries
	agentCfg.RetryDelay = cfg.RetryDelay
	agentCfg.MaxToolRounds = cfg.MaxToolRounds
	agentCfg.MaxToolResultLen = cfg.MaxToolResultLen
	agentCfg.DefaultThinkingBudget = cfg.ThinkingBudget
	agentCfg.Attachments = attachment.New(uploader, attachment.Config{
		MaxImageDimension: attachment.DefaultMaxImageDimension,
		Timeout:           cfg.FetchTimeout,
		Logger:            c.Logger,
	})
	agentCfg.Observer = cfg.Observer
	agentCfg.Logger = c.Logger
	c.Agent, err = conversation.New(llm, tools, agentCfg)
	return err
}

// fetcherConfig shares the search retry budget with page fetches.
func fetcherConfig(cfg Config) fetcher.Config {
	return fetcher.Config{
		Retries:    cfg.SearchRetries,
		RetryDelay: cfg.SearchRetryDelay,
	}
}

func (c *Container) newPageGetter(ctx context.Context, cfg Config) (output.PageGetter, error) {
	if cfg.FetchBrowser {
		browserCfg := rod.DefaultConfig()
		browserCfg.Proxy = cfg.FetchProxy
		browserCfg.UserAgent = fetcher.DefaultUserAgent
		if cfg.FetchTimeout > 0 {
			browserCfg.Timeout = cfg.FetchTimeout
		}
		browser, err := rod.NewBrowserAdapter(ctx, browserCfg)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, browser.Close)
		return browser, nil
	}

	httpCfg := fetcher.DefaultHTTPConfig()
	httpCfg.Timeout = cfg.FetchTimeout
	httpCfg.VerifyTLS = cfg.FetchVerifyTLS
	httpCfg.Proxy = cfg.FetchProxy
	return fetcher.NewHTTPGetter(httpCfg)
}

func newLLM(ctx context.Context, cfg Config, log output.LoggerPort) (output.LLMPort, output.FileUploader, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		a, err := gemini.New(ctx, gemini.Config{
			APIKey:           cfg.GeminiAPIKey,
			Model:            cfg.Model,
			EnableGrounding:  cfg.EnableGrounding,
			EnableURLContext: cfg.EnableURLContext,
			Logger:           log,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, a, nil

	case ProviderOpenRouter:
		orCfg := openrouter.DefaultConfig(cfg.OpenRouterAPIKey, cfg.Model)
		if cfg.OpenRouterBaseURL != "" {
			orCfg.BaseURL = cfg.OpenRouterBaseURL
		}
		orCfg.Logger = log
		orCfg.LogRequests = strings.EqualFold(cfg.Log.Level, "debug")
		a, err := openrouter.NewOpenRouterAdapter(orCfg)
		if err != nil {
			return nil, nil, err
		}
		return a, inline.Uploader{}, nil

	case ProviderAnthropic:
		a, err := anthropic.New(anthropic.Config{APIKey: cfg.AnthropicAPIKey, Model: cfg.Model, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		return a, inline.Uploader{}, nil

	case ProviderOllama:
		a, err := ollama.New(ollama.Config{Host: cfg.OllamaHost, Model: cfg.Model, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		return a, inline.Uploader{}, nil

	case ProviderLangchain:
		a, err := langchain.NewOpenAICompatible(langchain.Config{
			APIKey:  cfg.LangchainAPIKey,
			BaseURL: cfg.LangchainBaseURL,
			Model:   cfg.Model,
			Logger:  log,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, inline.Uploader{}, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

// Close releases resources in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
