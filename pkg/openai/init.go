package openai

import (
	"net/http"
	"net/url"

	"clipfactory/log"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultChatModel       = openai.GPT4oMini
	DefaultEmbeddingModel  = string(openai.SmallEmbedding3)
	DefaultTranscribeModel = openai.Whisper1
)

type Client struct {
	client *openai.Client

	ChatModel       string
	EmbeddingModel  string
	TranscribeModel string
}

func NewClient(baseUrl, apiKey, proxyAddr string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseUrl != "" {
		cfg.BaseURL = baseUrl
	}

	transport := &http.Transport{}
	if proxyAddr != "" {
		proxy, err := url.Parse(proxyAddr)
		if err != nil {
			log.GetLogger().Warn("openai: invalid proxy, connecting directly", zap.String("proxy", proxyAddr), zap.Error(err))
		} else {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}

	// 不设置整体超时，转写长音频可能需要数分钟；调用方通过 ctx 控制
	cfg.HTTPClient = &http.Client{Transport: transport}

	return &Client{
		client:          openai.NewClientWithConfig(cfg),
		ChatModel:       DefaultChatModel,
		EmbeddingModel:  DefaultEmbeddingModel,
		TranscribeModel: DefaultTranscribeModel,
	}
}
