// Package enrich calls the vision model that turns a screenshot into
// structured fields.
//
// The client speaks the OpenAI chat completions wire format with image_url
// content parts. Rate limiting (HTTP 429) is absorbed here with a bounded
// backoff that honours Retry-After; all other failures surface immediately as
// classified errors from the services package.
package enrich
