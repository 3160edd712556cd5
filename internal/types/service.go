package types

import "context"

type Transcriber interface {
	Transcribe(ctx context.Context, audioFile, language string) (*Transcript, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatCompleter returns a JSON object produced by the model.
type ChatCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	PutFile(ctx context.Context, key, localPath string) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetFile(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
