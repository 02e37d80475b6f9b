// Package executor provides the model-execution backends a task is
// dispatched to: a local Ollama-backed executor and a default remote
// executor, plus the model/provider resolution the task handler uses to
// pick one.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Executor runs a workflow entry against a model and returns the raw
// plaintext result.
type Executor interface {
	// Execute runs entry against model and returns its plaintext result.
	// Implementations must return promptly once ctx is cancelled.
	Execute(ctx context.Context, model string, entry Entry) (string, error)

	// Batchable reports whether this executor may run concurrently with
	// other invocations (true for remote providers) or must be
	// single-flighted (false for the local on-host backend).
	Batchable() bool
}

// Entry is the task-specific unit of work handed to an executor: the
// workflow definition plus an optional direct prompt override.
type Entry struct {
	Workflow map[string]any
	Prompt   *string
}

// Model describes one locally configured model: its concrete name and the
// provider that serves it ("ollama" for the local backend, anything else
// routed to the default remote executor).
type Model struct {
	Name     string
	Provider string
}

// ResolveModel scans preference, an ordered list of model names or
// provider names, against the locally configured models. Each entry is
// first tried as a concrete model name; if no exact match exists, it is
// tried as a provider name, in which case one configured model of that
// provider is picked: uniformly at random via rng, or the first configured
// one when rng is nil. Tests pass a seeded rng for reproducible picks.
func ResolveModel(preference []string, configured []Model, rng *rand.Rand) (Model, error) {
	byName := make(map[string]Model, len(configured))
	byProvider := make(map[string][]Model)
	for _, m := range configured {
		byName[m.Name] = m
		byProvider[m.Provider] = append(byProvider[m.Provider], m)
	}

	for _, want := range preference {
		if m, ok := byName[want]; ok {
			return m, nil
		}
		if candidates, ok := byProvider[want]; ok && len(candidates) > 0 {
			if rng == nil {
				return candidates[0], nil
			}
			return candidates[rng.Intn(len(candidates))], nil
		}
	}
	return Model{}, fmt.Errorf("no matching model for preference list %v", preference)
}

// IsLocalProvider reports whether provider identifies the local on-host
// Ollama backend.
func IsLocalProvider(provider string) bool {
	return strings.EqualFold(provider, "ollama")
}

// OllamaExecutor runs entries against a local Ollama instance over HTTP.
// It is never batchable: the local host has one inference slot.
type OllamaExecutor struct {
	baseURL string
	client  *http.Client
}

// NewOllamaExecutor builds an executor bound to host:port.
func NewOllamaExecutor(host string, port int) *OllamaExecutor {
	return &OllamaExecutor{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (e *OllamaExecutor) Batchable() bool { return false }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (e *OllamaExecutor) Execute(ctx context.Context, model string, entry Entry) (string, error) {
	prompt := resolvePrompt(entry)

	body, err := json.Marshal(ollamaRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return parsed.Response, nil
}

// RemoteExecutor routes entries to a configured remote model-execution
// endpoint. It is always batchable: remote providers accept concurrent
// requests.
type RemoteExecutor struct {
	endpoint string
	client   *http.Client
}

// NewRemoteExecutor builds an executor bound to a remote HTTP endpoint.
func NewRemoteExecutor(endpoint string) *RemoteExecutor {
	return &RemoteExecutor{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (e *RemoteExecutor) Batchable() bool { return true }

type remoteRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type remoteResponse struct {
	Output string `json:"output"`
}

func (e *RemoteExecutor) Execute(ctx context.Context, model string, entry Entry) (string, error) {
	prompt := resolvePrompt(entry)

	body, err := json.Marshal(remoteRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal remote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call remote executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("remote executor returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode remote response: %w", err)
	}
	return parsed.Output, nil
}

func resolvePrompt(entry Entry) string {
	if entry.Prompt != nil {
		return *entry.Prompt
	}
	data, _ := json.Marshal(entry.Workflow)
	return string(data)
}
