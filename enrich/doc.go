// Package enrich turns a batch of earthquakes into a Summary.
//
// The count, average and maximum magnitude are computed locally and are
// always present. When a Backend is configured the Client also asks a remote
// text-generation service for a short narrative, with bounded attempts,
// a per-attempt timeout and exponential backoff between attempts. Any
// failure leaves the narrative empty; Summarize has no error return.
//
// Two backends are provided. HTTPBackend posts a Hugging Face style
// {"inputs": ...} request and accepts any JSON response shape: the body is
// decoded into a Node and Extract walks it for text. OpenAIBackend calls an
// OpenAI-compatible chat completion API.
package enrich
