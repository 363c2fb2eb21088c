// Package backend defines the generator interface that every answer model
// backend (OpenAI, Ollama, Bedrock) implements, and the registry that maps
// configured backend names to constructors.
package backend
