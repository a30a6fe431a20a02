package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsbedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"devchat-backend/handler"
	"devchat-backend/internal/integrations/paramstore"
	"devchat-backend/internal/llm/anthropic"
	"devchat-backend/internal/llm/bedrock"
	"devchat-backend/internal/repository"
	"devchat-backend/internal/usecase"
)

const (
	defaultBedrockModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	defaultDirectModelID  = "claude-3-haiku-20240307"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	conversationsTable := mustEnv("CONVERSATIONS_TABLE")
	useBedrock := envBool("USE_BEDROCK", true)
	modelID := os.Getenv("MODEL_ID")
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 8000)
	historyDepth := envInt("HISTORY_DEPTH", 10)
	requestTimeout := time.Duration(envInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second
	retention := time.Duration(envInt("RETENTION_DAYS", 30)) * 24 * time.Hour

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), conversationsTable, retention)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	var llmClient usecase.LLMClient
	if useBedrock {
		if modelID == "" {
			modelID = defaultBedrockModelID
		}
		llmClient, err = bedrock.New(awsbedrockruntime.NewFromConfig(cfg), modelID)
		if err != nil {
			slog.Error("failed to create bedrock client", "err", err)
			os.Exit(1)
		}
	} else {
		paramPrefix := mustEnv("PARAM_PREFIX")
		ssmClient, ssmErr := paramstore.New(awsssm.NewFromConfig(cfg))
		if ssmErr != nil {
			slog.Error("failed to create SSM client", "err", ssmErr)
			os.Exit(1)
		}
		if modelID == "" {
			modelID = defaultDirectModelID
		}
		llmClient, err = anthropic.NewClient(ssmClient, paramPrefix, modelID)
		if err != nil {
			slog.Error("failed to create anthropic client", "err", err)
			os.Exit(1)
		}
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(llmClient, stateClient, maxMessageLen, historyDepth, requestTimeout, slog.Default())
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService, slog.Default())
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}
