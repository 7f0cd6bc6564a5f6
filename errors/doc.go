// Package errors provides standardized error handling for quakestream components.
//
// # Classification
//
// Every error that crosses a component boundary falls into one of three classes:
//
//   - Transient: feed outages, enrichment timeouts, dropped subscribers (retry or skip)
//   - Invalid: malformed client input or a malformed feed document (do not retry)
//   - Fatal: bad configuration or a crashed background task (stop the process)
//
// The HTTP gateway maps the class onto a status code, the poller uses it to decide
// whether a tick failure is worth more than a warning, and the enrichment client
// uses it to stop retrying early.
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Use the class-setting wrappers at the point where the class is known:
//
//	if resp.StatusCode != http.StatusOK {
//	    return errors.WrapTransient(errors.ErrFeedUnavailable, "Fetcher", "Fetch",
//	        fmt.Sprintf("feed returned status %d", resp.StatusCode))
//	}
//
// and plain Wrap everywhere else so that the original class survives:
//
//	return errors.Wrap(err, "Poller", "tick", "fetch feed")
//
// The package shadows the standard library name; import it as-is and reach for
// stderrors "errors" when errors.As is needed on foreign types.
package errors
